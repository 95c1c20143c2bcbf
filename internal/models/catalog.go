package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Service is a catalog entry clients can book.
type Service struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name" validate:"required,max=120"`
	Price           float64   `json:"price" yaml:"price" validate:"gte=0"`
	DurationMinutes int       `json:"duration_minutes" yaml:"duration_minutes" validate:"gt=0,lte=1440"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
}

// SchedulePolicy is the daily window in which appointments may be requested.
type SchedulePolicy struct {
	OpenTime  string `json:"open_time" yaml:"open_time" validate:"required,clock"`
	CloseTime string `json:"close_time" yaml:"close_time" validate:"required,clock"`
}

// Contains reports whether t lies within [OpenTime, CloseTime], inclusive.
// Unparseable times are never contained.
func (p SchedulePolicy) Contains(t string) bool {
	value, err := NormalizeClock(t)
	if err != nil {
		return false
	}
	open, err := NormalizeClock(p.OpenTime)
	if err != nil {
		return false
	}
	closing, err := NormalizeClock(p.CloseTime)
	if err != nil {
		return false
	}
	return value >= open && value <= closing
}

// NormalizeClock converts "9:05", "09:05" or "09:05:00" into "09:05".
func NormalizeClock(raw string) (string, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", fmt.Errorf("invalid time of day %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return "", fmt.Errorf("invalid minute in %q", raw)
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// Location is the practice's map position.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" yaml:"lng" validate:"gte=-180,lte=180"`
}

// Profile is the practitioner's public curriculum.
type Profile struct {
	DocumentURL string `json:"document_url" yaml:"document_url" validate:"omitempty,startswith=http"`
	PhotoURL    string `json:"photo_url" yaml:"photo_url"`
	Description string `json:"description" yaml:"description"`
	Experience  string `json:"experience" yaml:"experience"`
}
