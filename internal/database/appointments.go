package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinica/internal/events"
	"clinica/internal/models"

	"github.com/google/uuid"
)

const appointmentColumns = `id, owner_id, owner_email, service_name, date, time, status, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var a models.Appointment
	var createdAt int64
	if err := row.Scan(&a.ID, &a.OwnerID, &a.OwnerEmail, &a.ServiceName, &a.Date, &a.Time, &a.Status, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return &a, nil
}

// CreateAppointment stores a new pending appointment. ID, Status and
// CreatedAt are always assigned here; values set by the caller are ignored.
func (db *DB) CreateAppointment(ctx context.Context, appt *models.Appointment) error {
	appt.ID = uuid.NewString()
	appt.Status = models.StatusPending
	appt.CreatedAt = db.nextStamp()

	query := `INSERT INTO appointments (` + appointmentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		appt.ID,
		appt.OwnerID,
		appt.OwnerEmail,
		appt.ServiceName,
		appt.Date,
		appt.Time,
		appt.Status,
		appt.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	db.publish(events.EventAppointmentCreated, models.AppointmentChange{
		ID:      appt.ID,
		OwnerID: appt.OwnerID,
		Status:  appt.Status,
	})
	return nil
}

func (db *DB) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = ?`
	appt, err := scanAppointment(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return appt, nil
}

// ListAppointments returns appointments newest first. An empty ownerID
// lists every owner.
func (db *DB) ListAppointments(ctx context.Context, ownerID string) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	var args []interface{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC`

	return db.queryAppointments(ctx, query, args...)
}

// RecentAppointments returns at most limit appointments, newest first.
func (db *DB) RecentAppointments(ctx context.Context, limit int) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments ORDER BY created_at DESC LIMIT ?`
	return db.queryAppointments(ctx, query, limit)
}

func (db *DB) queryAppointments(ctx context.Context, query string, args ...interface{}) ([]*models.Appointment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	appointments := make([]*models.Appointment, 0)
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appointments = append(appointments, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return appointments, nil
}

func (db *DB) CountAppointmentsByStatus(ctx context.Context, status models.Status) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count appointments: %w", err)
	}
	return count, nil
}

// UpdateAppointmentStatus overwrites the status of an existing appointment.
// Any status may be replaced by any other, including itself.
func (db *DB) UpdateAppointmentStatus(ctx context.Context, id string, status models.Status) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ownerID string
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM appointments WHERE id = ?`, id).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load appointment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE appointments SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("failed to update appointment status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit appointment status: %w", err)
	}

	db.publish(events.EventAppointmentUpdated, models.AppointmentChange{ID: id, OwnerID: ownerID, Status: status})
	return nil
}

// DeleteAppointment hard-deletes an appointment. Deleting a missing id is a
// no-op and announces nothing.
func (db *DB) DeleteAppointment(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ownerID string
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM appointments WHERE id = ?`, id).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load appointment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit appointment delete: %w", err)
	}

	db.publish(events.EventAppointmentDeleted, models.AppointmentChange{ID: id, OwnerID: ownerID})
	return nil
}
