package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// CodeTTL is how long a verification code stays redeemable.
const CodeTTL = 48 * time.Hour

// VerificationCode is a single-use secret tying a pending account action
// (email verification, password reset) to a user. Rows are deleted on
// consumption, on expiry detection, and on resend; they are never updated.
type VerificationCode struct {
	ID        string
	Code      string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewVerificationCode issues a fresh unsaved code for the user. The code
// value is a 6-digit string drawn from crypto/rand; uniqueness among live
// codes is enforced by the storage layer, not here.
func NewVerificationCode(user User, now time.Time) (VerificationCode, error) {
	code, err := randomCode()
	if err != nil {
		return VerificationCode{}, err
	}
	return VerificationCode{
		ID:        uuid.NewString(),
		Code:      code,
		UserID:    user.ID,
		ExpiresAt: now.Add(CodeTTL),
		CreatedAt: now,
	}, nil
}

// Expired reports whether the code can no longer be redeemed at now.
func (c VerificationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
