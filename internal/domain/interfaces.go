package domain

import (
	"context"
	"time"

	"clinica/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AppointmentStore persists appointments. Every successful write is
// announced as a change event once committed.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, appt *models.Appointment) error
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	ListAppointments(ctx context.Context, ownerID string) ([]*models.Appointment, error)
	RecentAppointments(ctx context.Context, limit int) ([]*models.Appointment, error)
	CountAppointmentsByStatus(ctx context.Context, status models.Status) (int, error)
	UpdateAppointmentStatus(ctx context.Context, id string, status models.Status) error
	DeleteAppointment(ctx context.Context, id string) error
}

type CatalogStore interface {
	ListServices(ctx context.Context) ([]*models.Service, error)
	CountServices(ctx context.Context) (int, error)
	CreateService(ctx context.Context, service *models.Service) error
	UpdateService(ctx context.Context, service *models.Service) error
	DeleteService(ctx context.Context, id string) error
}

// DocumentStore keeps single JSON documents addressed by collection and id.
type DocumentStore interface {
	GetDocument(ctx context.Context, collection, id string, dest interface{}) error
	PutDocument(ctx context.Context, collection, id string, doc interface{}) error
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
}

type SyncQueue interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// IdempotencyRepository remembers which appointment a client key produced.
type IdempotencyRepository interface {
	// Get returns the appointment id stored for key, or "" when unknown.
	Get(ctx context.Context, key string) (string, error)
	// Reserve records key -> appointmentID unless the key is already taken.
	// It returns the stored appointment id and whether this call stored it.
	Reserve(ctx context.Context, key, appointmentID string, ttl time.Duration) (string, bool, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SheetsWriter mirrors appointments into a spreadsheet.
type SheetsWriter interface {
	UpsertAppointment(ctx context.Context, appt *models.Appointment) error
	DeleteAppointment(ctx context.Context, id string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}
