package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/logging"
	"clinica/internal/models"
	"clinica/internal/session"

	"github.com/rs/zerolog"
)

var mapsCoordinates = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)

type LocationService struct {
	docs   domain.DocumentStore
	logger *zerolog.Logger
}

func NewLocationService(docs domain.DocumentStore, logger *zerolog.Logger) *LocationService {
	return &LocationService{docs: docs, logger: logging.Component(logger, "location")}
}

// Get returns the saved practice location, or the default one.
func (s *LocationService) Get(ctx context.Context) (models.Location, error) {
	var loc models.Location
	err := s.docs.GetDocument(ctx, models.CollectionSettings, models.DocLocation, &loc)
	if errors.Is(err, database.ErrNotFound) {
		return models.Location{Lat: models.DefaultLatitude, Lng: models.DefaultLongitude}, nil
	}
	if err != nil {
		return models.Location{}, storage(err)
	}
	return loc, nil
}

func (s *LocationService) Save(ctx context.Context, loc models.Location, actor *session.Identity) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := validateStruct(&loc); err != nil {
		return err
	}
	if err := s.docs.PutDocument(ctx, models.CollectionSettings, models.DocLocation, loc); err != nil {
		return storage(err)
	}
	s.logger.Info().Float64("lat", loc.Lat).Float64("lng", loc.Lng).Str("actor", actor.ID).Msg("location updated")
	return nil
}

// ParseMapsURL extracts the "@lat,lng" pair of a Google Maps address bar URL.
func ParseMapsURL(raw string) (models.Location, error) {
	match := mapsCoordinates.FindStringSubmatch(raw)
	if match == nil {
		return models.Location{}, invalid("maps_url", "must contain coordinates as @lat,lng")
	}

	lat, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return models.Location{}, invalid("maps_url", "latitude is not a number")
	}
	lng, err := strconv.ParseFloat(match[2], 64)
	if err != nil {
		return models.Location{}, invalid("maps_url", "longitude is not a number")
	}

	loc := models.Location{Lat: lat, Lng: lng}
	if err := validateStruct(&loc); err != nil {
		return models.Location{}, err
	}
	return loc, nil
}
