package service

import (
	"context"
	"errors"

	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/logging"
	"clinica/internal/models"
	"clinica/internal/session"

	"github.com/rs/zerolog"
)

type ScheduleService struct {
	docs   domain.DocumentStore
	logger *zerolog.Logger
}

func NewScheduleService(docs domain.DocumentStore, logger *zerolog.Logger) *ScheduleService {
	return &ScheduleService{docs: docs, logger: logging.Component(logger, "schedule")}
}

// LoadPolicy returns the configured window, or nil when none is usable.
// Missing, unreadable and malformed policies all disable time validation.
func (s *ScheduleService) LoadPolicy(ctx context.Context) *models.SchedulePolicy {
	var policy models.SchedulePolicy
	err := s.docs.GetDocument(ctx, models.CollectionSettings, models.DocSchedule, &policy)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load schedule policy, skipping time validation")
		return nil
	}
	if err := validateStruct(&policy); err != nil {
		s.logger.Warn().Err(err).Msg("stored schedule policy is malformed, skipping time validation")
		return nil
	}
	return &policy
}

// SetPolicy stores a normalized window; open must not be after close.
func (s *ScheduleService) SetPolicy(ctx context.Context, policy models.SchedulePolicy, actor *session.Identity) (*models.SchedulePolicy, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateStruct(&policy); err != nil {
		return nil, err
	}

	open, _ := models.NormalizeClock(policy.OpenTime)
	closing, _ := models.NormalizeClock(policy.CloseTime)
	if open > closing {
		return nil, invalid("close_time", "must not be before open_time")
	}

	normalized := models.SchedulePolicy{OpenTime: open, CloseTime: closing}
	if err := s.docs.PutDocument(ctx, models.CollectionSettings, models.DocSchedule, normalized); err != nil {
		return nil, storage(err)
	}
	s.logger.Info().Str("open", open).Str("close", closing).Str("actor", actor.ID).Msg("schedule policy updated")
	return &normalized, nil
}
