package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockRepo) Reserve(ctx context.Context, key, appointmentID string, ttl time.Duration) (string, bool, error) {
	args := m.Called(ctx, key, appointmentID, ttl)
	return args.String(0), args.Bool(1), args.Error(2)
}

func TestFailoverIdempotencyRepository(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverIdempotencyRepository(primary, fallback, &logger)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Get", ctx, "k1").Return("a1", nil).Once()

		id, err := repo.Get(ctx, "k1")
		assert.NoError(t, err)
		assert.Equal(t, "a1", id)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailure", func(t *testing.T) {
		primary.On("Reserve", ctx, "k2", "a2", time.Hour).Return("", false, errors.New("redis down")).Once()
		fallback.On("Reserve", ctx, "k2", "a2", time.Hour).Return("a2", true, nil).Once()

		id, stored, err := repo.Reserve(ctx, "k2", "a2", time.Hour)
		assert.NoError(t, err)
		assert.True(t, stored)
		assert.Equal(t, "a2", id)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("Get", ctx, "k2").Return("a2", nil).Once()

		id, err := repo.Get(ctx, "k2")
		assert.NoError(t, err)
		assert.Equal(t, "a2", id)
		primary.AssertNotCalled(t, "Get", ctx, "k2")
		fallback.AssertExpectations(t)
	})

	t.Run("Recovery", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Get", ctx, "k3").Return("a3", nil).Once()

		id, err := repo.Get(ctx, "k3")
		assert.NoError(t, err)
		assert.Equal(t, "a3", id)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})
}
