package service

import (
	"context"
	"testing"
	"time"

	"clinica/internal/database"
	"clinica/internal/models"
	"clinica/internal/session"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	admin  = &session.Identity{ID: "admin-1", Email: "dra@example.com", Role: models.RoleAdmin}
	client = &session.Identity{ID: "client-a", Email: "a@example.com", Role: models.RoleClient}
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateAppointment(ctx context.Context, appt *models.Appointment) error {
	return m.Called(ctx, appt).Error(0)
}

func (m *mockStore) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Appointment), args.Error(1)
}

func (m *mockStore) ListAppointments(ctx context.Context, ownerID string) ([]*models.Appointment, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Appointment), args.Error(1)
}

func (m *mockStore) RecentAppointments(ctx context.Context, limit int) ([]*models.Appointment, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Appointment), args.Error(1)
}

func (m *mockStore) CountAppointmentsByStatus(ctx context.Context, status models.Status) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) UpdateAppointmentStatus(ctx context.Context, id string, status models.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockStore) DeleteAppointment(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type staticPolicy struct {
	policy *models.SchedulePolicy
}

func (p staticPolicy) LoadPolicy(context.Context) *models.SchedulePolicy {
	return p.policy
}

type mockKeys struct {
	mock.Mock
}

func (m *mockKeys) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockKeys) Reserve(ctx context.Context, key, appointmentID string, ttl time.Duration) (string, bool, error) {
	args := m.Called(ctx, key, appointmentID, ttl)
	return args.String(0), args.Bool(1), args.Error(2)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(":memory:", nopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
