package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"clinica/internal/models"

	"github.com/google/uuid"
)

// ListServices returns the catalog in insertion order.
func (db *DB) ListServices(ctx context.Context) ([]*models.Service, error) {
	query := `SELECT id, name, price, duration_minutes, created_at FROM services ORDER BY seq ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	services := make([]*models.Service, 0)
	for rows.Next() {
		var s models.Service
		if err := rows.Scan(&s.ID, &s.Name, &s.Price, &s.DurationMinutes, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, &s)
	}
	return services, rows.Err()
}

func (db *DB) CountServices(ctx context.Context) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM services`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count services: %w", err)
	}
	return count, nil
}

func (db *DB) CreateService(ctx context.Context, service *models.Service) error {
	if service.ID == "" {
		service.ID = uuid.NewString()
	}
	service.CreatedAt = time.Now().UTC()

	query := `INSERT INTO services (id, name, price, duration_minutes, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query, service.ID, service.Name, service.Price, service.DurationMinutes, service.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return nil
}

func (db *DB) UpdateService(ctx context.Context, service *models.Service) error {
	query := `UPDATE services SET name = ?, price = ?, duration_minutes = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, service.Name, service.Price, service.DurationMinutes, service.ID)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	return requireAffected(result)
}

func (db *DB) DeleteService(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
