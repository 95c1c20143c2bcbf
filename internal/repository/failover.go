package repository

import (
	"context"
	"sync/atomic"
	"time"

	"clinica/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverIdempotencyRepository prefers the primary store and switches to the
// fallback after the first primary error, probing the primary again once
// recoveryInterval has passed.
type FailoverIdempotencyRepository struct {
	primary   domain.IdempotencyRepository
	fallback  domain.IdempotencyRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverIdempotencyRepository(primary, fallback domain.IdempotencyRepository, logger *zerolog.Logger) *FailoverIdempotencyRepository {
	return &FailoverIdempotencyRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverIdempotencyRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverIdempotencyRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("primary idempotency repository failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverIdempotencyRepository) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("primary idempotency repository recovered")
	}
}

func (r *FailoverIdempotencyRepository) Get(ctx context.Context, key string) (string, error) {
	if r.usePrimary() {
		id, err := r.primary.Get(ctx, key)
		if err == nil {
			r.markUp()
			return id, nil
		}
		r.markDown(err)
	}
	return r.fallback.Get(ctx, key)
}

func (r *FailoverIdempotencyRepository) Reserve(ctx context.Context, key, appointmentID string, ttl time.Duration) (string, bool, error) {
	if r.usePrimary() {
		id, stored, err := r.primary.Reserve(ctx, key, appointmentID, ttl)
		if err == nil {
			r.markUp()
			return id, stored, nil
		}
		r.markDown(err)
	}
	return r.fallback.Reserve(ctx, key, appointmentID, ttl)
}
