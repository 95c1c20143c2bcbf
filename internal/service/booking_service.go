package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/logging"
	"clinica/internal/metrics"
	"clinica/internal/models"
	"clinica/internal/session"

	"github.com/rs/zerolog"
)

// SubmitRequest is what a client asks for. IdempotencyKey is optional.
type SubmitRequest struct {
	ServiceName    string `json:"service_name"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	IdempotencyKey string `json:"-"`
}

type PolicyLoader interface {
	LoadPolicy(ctx context.Context) *models.SchedulePolicy
}

type BookingService struct {
	store    domain.AppointmentStore
	schedule PolicyLoader
	keys     domain.IdempotencyRepository
	keyTTL   time.Duration
	logger   *zerolog.Logger
}

// NewBookingService builds the submitter. keys may be nil, in which case
// idempotency keys are ignored.
func NewBookingService(
	store domain.AppointmentStore,
	schedule PolicyLoader,
	keys domain.IdempotencyRepository,
	keyTTL time.Duration,
	logger *zerolog.Logger,
) *BookingService {
	if keyTTL <= 0 {
		keyTTL = models.DefaultIdempotencyTTL
	}
	return &BookingService{
		store:    store,
		schedule: schedule,
		keys:     keys,
		keyTTL:   keyTTL,
		logger:   logging.Component(logger, "booking"),
	}
}

// Submit creates one pending appointment for user. Validation failures are
// returned before anything is written; storage failures are not retried.
func (s *BookingService) Submit(ctx context.Context, req SubmitRequest, user *session.Identity) (*models.Appointment, error) {
	if user == nil {
		metrics.IncSubmission("not_authenticated")
		return nil, ErrNotAuthenticated
	}

	serviceName := strings.TrimSpace(req.ServiceName)
	date := strings.TrimSpace(req.Date)
	timeOfDay := strings.TrimSpace(req.Time)
	if serviceName == "" || date == "" || timeOfDay == "" {
		metrics.IncSubmission("missing_fields")
		return nil, ErrMissingFields
	}

	if policy := s.schedule.LoadPolicy(ctx); policy != nil && !policy.Contains(timeOfDay) {
		metrics.IncSubmission("outside_schedule")
		return nil, &OutsideScheduleError{Open: policy.OpenTime, Close: policy.CloseTime}
	}

	key := s.scopedKey(user, req.IdempotencyKey)
	if key != "" {
		existing, err := s.replay(ctx, key)
		if err != nil {
			metrics.IncSubmission("storage_error")
			return nil, err
		}
		if existing != nil {
			metrics.IncSubmission("replayed")
			return existing, nil
		}
	}

	appt := &models.Appointment{
		OwnerID:     user.ID,
		OwnerEmail:  user.Email,
		ServiceName: serviceName,
		Date:        date,
		Time:        timeOfDay,
	}
	if err := s.store.CreateAppointment(ctx, appt); err != nil {
		metrics.IncSubmission("storage_error")
		s.logger.Error().Err(err).Str("owner_id", user.ID).Msg("failed to create appointment")
		return nil, storage(err)
	}

	if key != "" {
		s.remember(ctx, key, appt.ID)
	}

	metrics.IncSubmission("created")
	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("owner_id", appt.OwnerID).
		Str("service", appt.ServiceName).
		Msg("appointment requested")
	return appt, nil
}

// ListOwn returns the caller's appointments, newest first.
func (s *BookingService) ListOwn(ctx context.Context, user *session.Identity) ([]*models.Appointment, error) {
	if user == nil {
		return nil, ErrNotAuthenticated
	}
	list, err := s.store.ListAppointments(ctx, user.ID)
	if err != nil {
		return nil, storage(err)
	}
	return list, nil
}

func (s *BookingService) scopedKey(user *session.Identity, key string) string {
	key = strings.TrimSpace(key)
	if key == "" || s.keys == nil {
		return ""
	}
	return user.ID + ":" + key
}

// replay returns the appointment a key already produced, if it still exists.
func (s *BookingService) replay(ctx context.Context, key string) (*models.Appointment, error) {
	id, err := s.keys.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("idempotency lookup failed, submitting without it")
		return nil, nil
	}
	if id == "" {
		return nil, nil
	}

	appt, err := s.store.GetAppointment(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storage(err)
	}
	return appt, nil
}

func (s *BookingService) remember(ctx context.Context, key, appointmentID string) {
	stored, fresh, err := s.keys.Reserve(ctx, key, appointmentID, s.keyTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appointmentID).Msg("failed to record idempotency key")
		return
	}
	if !fresh && stored != appointmentID {
		s.logger.Warn().
			Str("appointment_id", appointmentID).
			Str("previous_id", stored).
			Msg("concurrent submissions shared an idempotency key")
	}
}
