package service

import (
	"context"
	"errors"
	"strings"

	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/logging"
	"clinica/internal/models"
	"clinica/internal/session"

	"github.com/rs/zerolog"
)

type CatalogService struct {
	store  domain.CatalogStore
	logger *zerolog.Logger
}

func NewCatalogService(store domain.CatalogStore, logger *zerolog.Logger) *CatalogService {
	return &CatalogService{store: store, logger: logging.Component(logger, "catalog")}
}

// LoadServices reads the catalog once, in insertion order. A storage failure
// is logged and yields an empty catalog.
func (s *CatalogService) LoadServices(ctx context.Context) []*models.Service {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load services")
		return []*models.Service{}
	}
	if services == nil {
		return []*models.Service{}
	}
	return services
}

func (s *CatalogService) CreateService(ctx context.Context, svc *models.Service, actor *session.Identity) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	svc.ID = ""
	if err := prepareService(svc); err != nil {
		return err
	}
	if err := s.store.CreateService(ctx, svc); err != nil {
		return storage(err)
	}
	s.logger.Info().Str("service_id", svc.ID).Str("actor", actor.ID).Msg("service created")
	return nil
}

func (s *CatalogService) UpdateService(ctx context.Context, svc *models.Service, actor *session.Identity) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := prepareService(svc); err != nil {
		return err
	}
	err := s.store.UpdateService(ctx, svc)
	if errors.Is(err, database.ErrNotFound) {
		return ErrServiceNotFound
	}
	if err != nil {
		return storage(err)
	}
	return nil
}

func (s *CatalogService) DeleteService(ctx context.Context, id string, actor *session.Identity) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	err := s.store.DeleteService(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return ErrServiceNotFound
	}
	if err != nil {
		return storage(err)
	}
	s.logger.Info().Str("service_id", id).Str("actor", actor.ID).Msg("service deleted")
	return nil
}

func prepareService(svc *models.Service) error {
	svc.Name = strings.TrimSpace(svc.Name)
	return validateStruct(svc)
}

func requireAdmin(actor *session.Identity) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
