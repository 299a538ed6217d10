// Package repository defines the persistence contracts for users and
// verification codes, plus the transaction scope the service layer uses
// for atomic multi-step writes.
package repository

import (
	"context"

	"github.com/formica-tech/formic-api/internal/domain"
)

// UserRepository persists account records.
type UserRepository interface {
	// GetByID returns domain.ErrUserNotFound when no row matches.
	GetByID(ctx context.Context, id string) (domain.User, error)
	// GetByEmail returns domain.ErrUserNotFound when no row matches.
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	CountByEmail(ctx context.Context, email string) (int64, error)
	// Create returns domain.ErrUserAlreadyExists on an email conflict.
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, user domain.User) error
}

// CodeRepository persists verification codes.
type CodeRepository interface {
	// Get returns domain.ErrInvalidVerificationID when no row matches.
	Get(ctx context.Context, id string) (domain.VerificationCode, error)
	// GetWithUser also loads the owning user in one round trip.
	GetWithUser(ctx context.Context, id string) (domain.VerificationCode, domain.User, error)
	// Create returns domain.ErrDuplicateCode when the code value collides
	// with another live code.
	Create(ctx context.Context, code domain.VerificationCode) error
	// Delete reports whether a row was actually removed, so callers can
	// treat a lost delete race as already-consumed.
	Delete(ctx context.Context, id string) (bool, error)
}

// Store bundles the repositories with a transaction scope. The Store handed
// to a WithTx callback runs every repository call on the same transaction;
// the callback returning an error rolls the whole unit back.
type Store interface {
	Users() UserRepository
	Codes() CodeRepository
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
