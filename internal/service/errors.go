package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrMissingFields       = errors.New("service, date and time are required")
	ErrOutsideSchedule     = errors.New("requested time is outside the schedule")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrForbidden           = errors.New("admin role required")
	ErrInvalidStatus       = errors.New("status must be confirmed or cancelled")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrServiceNotFound     = errors.New("service not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// OutsideScheduleError carries the configured window for display.
type OutsideScheduleError struct {
	Open  string
	Close string
}

func (e *OutsideScheduleError) Error() string {
	return fmt.Sprintf("requested time is outside the schedule %s-%s", e.Open, e.Close)
}

func (e *OutsideScheduleError) Is(target error) bool {
	return target == ErrOutsideSchedule
}

// ValidationError lists the offending fields of a rejected input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func storage(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
