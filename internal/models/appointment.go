package models

import "time"

// Appointment is one booking request made by a client for a catalog service.
type Appointment struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	OwnerEmail  string    `json:"owner_email"`
	ServiceName string    `json:"service_name"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// AppointmentChange is the payload of appointment change events.
type AppointmentChange struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Status  Status `json:"status,omitempty"`
}

// SyncTask represents a queued synchronization job for Sheets.
type SyncTask struct {
	ID            int64      `json:"id"`
	TaskType      string     `json:"task_type"`
	AppointmentID string     `json:"appointment_id"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}
