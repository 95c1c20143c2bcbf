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

type RoleResolver interface {
	IsConfiguredAdmin(userID, email string) bool
}

// RegisterRequest is the profile a client completes after signing up.
type RegisterRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

type UserService struct {
	users  domain.UserStore
	roles  RoleResolver
	logger *zerolog.Logger
}

func NewUserService(users domain.UserStore, roles RoleResolver, logger *zerolog.Logger) *UserService {
	return &UserService{users: users, roles: roles, logger: logging.Component(logger, "users")}
}

// Register stores the caller's profile. New users are clients unless they
// are configured admins; an existing admin keeps the role.
func (s *UserService) Register(ctx context.Context, req RegisterRequest, id *session.Identity) (*models.User, error) {
	if id == nil {
		return nil, ErrNotAuthenticated
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := validateStruct(&req); err != nil {
		return nil, err
	}

	role := models.RoleClient
	existing, err := s.users.GetUser(ctx, id.ID)
	switch {
	case err == nil && existing.Role == models.RoleAdmin:
		role = models.RoleAdmin
	case err != nil && !errors.Is(err, database.ErrNotFound):
		return nil, storage(err)
	}
	if s.roles != nil && s.roles.IsConfiguredAdmin(id.ID, id.Email) {
		role = models.RoleAdmin
	}

	user := &models.User{
		ID:    id.ID,
		Email: id.Email,
		Name:  req.Name,
		Phone: req.Phone,
		Role:  role,
	}
	if existing != nil {
		user.CreatedAt = existing.CreatedAt
	}
	if err := s.users.UpsertUser(ctx, user); err != nil {
		return nil, storage(err)
	}

	s.logger.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("user registered")
	return user, nil
}

// Me returns the caller's stored profile.
func (s *UserService) Me(ctx context.Context, id *session.Identity) (*models.User, error) {
	if id == nil {
		return nil, ErrNotAuthenticated
	}
	user, err := s.users.GetUser(ctx, id.ID)
	if errors.Is(err, database.ErrNotFound) {
		return &models.User{ID: id.ID, Email: id.Email, Role: id.Role}, nil
	}
	if err != nil {
		return nil, storage(err)
	}
	return user, nil
}
