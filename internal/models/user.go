package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DashboardStats summarizes the back office landing page.
type DashboardStats struct {
	PendingAppointments int            `json:"pending_appointments"`
	TotalServices       int            `json:"total_services"`
	Recent              []*Appointment `json:"recent"`
}
