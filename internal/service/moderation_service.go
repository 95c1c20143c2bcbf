package service

import (
	"context"
	"errors"

	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/logging"
	"clinica/internal/metrics"
	"clinica/internal/models"
	"clinica/internal/session"

	"github.com/rs/zerolog"
)

// ModerationService lets admins transition or delete appointments. It never
// touches feed state; feeds converge through store notifications.
type ModerationService struct {
	store  domain.AppointmentStore
	logger *zerolog.Logger
}

func NewModerationService(store domain.AppointmentStore, logger *zerolog.Logger) *ModerationService {
	return &ModerationService{store: store, logger: logging.Component(logger, "moderation")}
}

// SetStatus moves an appointment to confirmed or cancelled from any status,
// including the one it already has.
func (s *ModerationService) SetStatus(ctx context.Context, id string, status models.Status, actor *session.Identity) error {
	if err := requireAdmin(actor); err != nil {
		metrics.IncModeration("set_status", "forbidden")
		return err
	}
	if !status.Moderatable() {
		metrics.IncModeration("set_status", "invalid_status")
		return ErrInvalidStatus
	}

	err := s.store.UpdateAppointmentStatus(ctx, id, status)
	if errors.Is(err, database.ErrNotFound) {
		metrics.IncModeration("set_status", "not_found")
		return ErrAppointmentNotFound
	}
	if err != nil {
		metrics.IncModeration("set_status", "storage_error")
		s.logger.Error().Err(err).Str("appointment_id", id).Msg("failed to set status")
		return storage(err)
	}

	metrics.IncModeration("set_status", "ok")
	s.logger.Info().
		Str("appointment_id", id).
		Str("status", string(status)).
		Str("actor", actor.ID).
		Msg("appointment status changed")
	return nil
}

// Remove hard-deletes an appointment. Removing a missing id succeeds.
func (s *ModerationService) Remove(ctx context.Context, id string, actor *session.Identity) error {
	if err := requireAdmin(actor); err != nil {
		metrics.IncModeration("remove", "forbidden")
		return err
	}

	if err := s.store.DeleteAppointment(ctx, id); err != nil {
		metrics.IncModeration("remove", "storage_error")
		s.logger.Error().Err(err).Str("appointment_id", id).Msg("failed to remove appointment")
		return storage(err)
	}

	metrics.IncModeration("remove", "ok")
	s.logger.Info().Str("appointment_id", id).Str("actor", actor.ID).Msg("appointment removed")
	return nil
}

// ListAll returns every appointment, newest first.
func (s *ModerationService) ListAll(ctx context.Context, actor *session.Identity) ([]*models.Appointment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	list, err := s.store.ListAppointments(ctx, "")
	if err != nil {
		return nil, storage(err)
	}
	return list, nil
}
