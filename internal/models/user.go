package models

import "time"

type User struct {
	ID           string     `json:"id" example:"8f1c9e4a-0b65-4f0e-9c3d-2f6a1f6f2b10"` // User ID
	Email        string     `json:"email" example:"user@example.com"`                  // User email
	Username     string     `json:"username" example:"dolpheyn"`                       // Display name
	PasswordHash string     `json:"-"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
