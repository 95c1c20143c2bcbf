package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinica/internal/models"
)

// UpsertUser creates the user record or refreshes its profile fields.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, email, name, phone, role, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                email = excluded.email,
                name = excluded.name,
                phone = excluded.phone,
                role = excluded.role,
                updated_at = excluded.updated_at`
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Phone,
		user.Role,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create or update user: %w", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, email, name, phone, role, created_at, updated_at FROM users WHERE id = ?`

	var user models.User
	err := db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.Phone, &user.Role, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
