package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisIdempotencyRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	repo := NewRedisIdempotencyRepository(client)
	ctx := context.Background()

	t.Run("GetUnknown", func(t *testing.T) {
		id, err := repo.Get(ctx, "u1:k1")
		require.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("ReserveOnce", func(t *testing.T) {
		id, stored, err := repo.Reserve(ctx, "u1:k1", "a1", time.Hour)
		require.NoError(t, err)
		assert.True(t, stored)
		assert.Equal(t, "a1", id)

		id, stored, err = repo.Reserve(ctx, "u1:k1", "a2", time.Hour)
		require.NoError(t, err)
		assert.False(t, stored)
		assert.Equal(t, "a1", id)

		id, err = repo.Get(ctx, "u1:k1")
		require.NoError(t, err)
		assert.Equal(t, "a1", id)
	})

	t.Run("Expiry", func(t *testing.T) {
		_, _, err := repo.Reserve(ctx, "u1:k2", "a3", time.Minute)
		require.NoError(t, err)
		s.FastForward(2 * time.Minute)

		id, err := repo.Get(ctx, "u1:k2")
		require.NoError(t, err)
		assert.Empty(t, id)
	})
}

func TestRedisIdempotencyRepositoryUnavailable(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	repo := NewRedisIdempotencyRepository(client)
	ctx := context.Background()

	_, err = repo.Get(ctx, "u1:k1")
	assert.Error(t, err)
	_, _, err = repo.Reserve(ctx, "u1:k3", "a4", time.Minute)
	assert.Error(t, err)
}

func TestRedisHelpers(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(redisConfig(s.Addr()))
	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(client))
	assert.NoError(t, Close(nil))
}

func TestRedisNilClient(t *testing.T) {
	repo := NewRedisIdempotencyRepository(nil)
	_, err := repo.Get(context.Background(), "k")
	assert.Error(t, err)
}
