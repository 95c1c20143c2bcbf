package models

import "time"

// Status is the moderation state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// Moderatable reports whether an admin may set s explicitly.
func (s Status) Moderatable() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Role tags the current identity.
type Role string

const (
	RoleNone   Role = ""
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

const (
	// RecentAppointmentsLimit количество последних заявок на панели администратора
	RecentAppointmentsLimit = 5

	// DefaultIdempotencyTTL время жизни ключа идемпотентности
	DefaultIdempotencyTTL = 24 * time.Hour

	// DefaultLatitude and DefaultLongitude center the map when no location is saved (Tarija).
	DefaultLatitude  = -21.5355
	DefaultLongitude = -64.7296

	// FeedBufferSize сколько уведомлений копится до слияния
	FeedBufferSize = 1

	// NotifyQueueSize размер очереди уведомлений
	NotifyQueueSize = 256
)

const (
	CollectionSettings = "settings"

	DocSchedule = "schedule"
	DocLocation = "location"
	DocProfile  = "profile"
)
