package service

import (
	"context"
	"testing"

	"clinica/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicy(t *testing.T) {
	db := newTestDB(t)
	svc := NewScheduleService(db, nopLogger())
	ctx := context.Background()

	assert.Nil(t, svc.LoadPolicy(ctx))

	saved, err := svc.SetPolicy(ctx, models.SchedulePolicy{OpenTime: "8:00", CloseTime: "17:00:00"}, admin)
	require.NoError(t, err)
	assert.Equal(t, "08:00", saved.OpenTime)
	assert.Equal(t, "17:00", saved.CloseTime)

	policy := svc.LoadPolicy(ctx)
	require.NotNil(t, policy)
	assert.Equal(t, *saved, *policy)
}

func TestLoadPolicyFailsOpen(t *testing.T) {
	db := newTestDB(t)
	svc := NewScheduleService(db, nopLogger())
	ctx := context.Background()

	require.NoError(t, db.PutDocument(ctx, models.CollectionSettings, models.DocSchedule, map[string]string{"open_time": "morning"}))
	assert.Nil(t, svc.LoadPolicy(ctx))

	require.NoError(t, db.Close())
	assert.Nil(t, svc.LoadPolicy(ctx))
}

func TestSetPolicyValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewScheduleService(db, nopLogger())
	ctx := context.Background()

	_, err := svc.SetPolicy(ctx, models.SchedulePolicy{OpenTime: "08:00", CloseTime: "17:00"}, client)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.SetPolicy(ctx, models.SchedulePolicy{OpenTime: "25:00", CloseTime: "17:00"}, admin)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.SetPolicy(ctx, models.SchedulePolicy{OpenTime: "18:00", CloseTime: "09:00"}, admin)
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Nil(t, svc.LoadPolicy(ctx))
}
