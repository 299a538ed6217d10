// Package domain holds the core entities and the sentinel errors shared
// across the service and transport layers. Callers match errors with
// errors.Is; the HTTP layer maps each kind to a distinct response shape.
package domain

import "errors"

var (
	// Account lookup / registration.
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrLoginFailed       = errors.New("invalid credentials")

	// Verification code lifecycle.
	ErrInvalidVerificationID   = errors.New("invalid verification id")
	ErrInvalidVerificationUser = errors.New("invalid verification user")
	ErrInvalidVerificationCode = errors.New("invalid verification code")
	ErrVerificationExpired     = errors.New("verification is expired")
	ErrCodeGeneration          = errors.New("could not generate a unique verification code")

	// Token codec.
	ErrSigning      = errors.New("token signing failed")
	ErrInvalidToken = errors.New("invalid token")

	// Storage-level uniqueness violation, surfaced by repositories so the
	// lifecycle can retry code generation.
	ErrDuplicateCode = errors.New("verification code already in use")
)
