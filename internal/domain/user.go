package domain

import "time"

// User represents an account that can authenticate against the service.
// PasswordHash is always derived from (password, Salt) via the password
// package; it never holds a plaintext value.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Salt         string
	FirstName    string
	LastName     string
	Phone        string
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
