package session

import (
	"context"
	"errors"
	"strings"

	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/models"

	"github.com/rs/zerolog"
)

// Provider turns a bearer token into an Identity. The role is read from the
// users table and promoted to admin for configured admins.
type Provider struct {
	verifier *Verifier
	users    domain.UserStore
	admins   map[string]struct{}
	logger   *zerolog.Logger
}

func NewProvider(verifier *Verifier, users domain.UserStore, admins []string, logger *zerolog.Logger) *Provider {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		set[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}
	return &Provider{verifier: verifier, users: users, admins: set, logger: logger}
}

// Authenticate verifies the token and resolves the caller's role.
func (p *Provider) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := p.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	id := &Identity{ID: claims.Subject, Email: claims.Email}
	id.Role = p.ResolveRole(ctx, id.ID, id.Email)
	return id, nil
}

// ResolveRole never fails: storage errors degrade to client.
func (p *Provider) ResolveRole(ctx context.Context, userID, email string) models.Role {
	if p.IsConfiguredAdmin(userID, email) {
		return models.RoleAdmin
	}

	user, err := p.users.GetUser(ctx, userID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return models.RoleClient
	case err != nil:
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("role lookup failed")
		return models.RoleClient
	case user.Role == models.RoleAdmin:
		return models.RoleAdmin
	default:
		return models.RoleClient
	}
}

func (p *Provider) IsConfiguredAdmin(userID, email string) bool {
	if _, ok := p.admins[strings.ToLower(userID)]; ok && userID != "" {
		return true
	}
	if _, ok := p.admins[strings.ToLower(email)]; ok && email != "" {
		return true
	}
	return false
}
