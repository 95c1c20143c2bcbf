package service

import (
	"context"

	"clinica/internal/domain"
	"clinica/internal/models"
	"clinica/internal/session"
)

type DashboardService struct {
	appointments domain.AppointmentStore
	catalog      domain.CatalogStore
}

func NewDashboardService(appointments domain.AppointmentStore, catalog domain.CatalogStore) *DashboardService {
	return &DashboardService{appointments: appointments, catalog: catalog}
}

// Stats summarizes pending work for the back office landing page.
func (s *DashboardService) Stats(ctx context.Context, actor *session.Identity) (*models.DashboardStats, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	pending, err := s.appointments.CountAppointmentsByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, storage(err)
	}
	services, err := s.catalog.CountServices(ctx)
	if err != nil {
		return nil, storage(err)
	}
	recent, err := s.appointments.RecentAppointments(ctx, models.RecentAppointmentsLimit)
	if err != nil {
		return nil, storage(err)
	}

	return &models.DashboardStats{
		PendingAppointments: pending,
		TotalServices:       services,
		Recent:              recent,
	}, nil
}
