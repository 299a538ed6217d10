// Package verification owns the one-time code lifecycle: issuing codes,
// resending them, and redeeming them exactly once against a user mutation.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/formica-tech/formic-api/internal/domain"
	"github.com/formica-tech/formic-api/internal/mail"
	"github.com/formica-tech/formic-api/internal/repository"
)

// maxCodeAttempts bounds regeneration retries when a generated code value
// collides with a live one.
const maxCodeAttempts = 3

// ConsumeFunc is the caller-supplied mutation run inside the consume
// transaction. The store handed in is transaction-scoped; returning an
// error rolls back both the mutation and the code deletion.
type ConsumeFunc func(ctx context.Context, tx repository.Store, user domain.User) error

// Lifecycle issues and redeems verification codes.
type Lifecycle struct {
	store  repository.Store
	mailer mail.Mailer
	logger *zap.Logger
	now    func() time.Time
}

// NewLifecycle wires the lifecycle to its collaborators.
func NewLifecycle(store repository.Store, mailer mail.Mailer, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{store: store, mailer: mailer, logger: logger, now: time.Now}
}

// Issue creates, persists, and mails a fresh code for the user inside its
// own transaction.
func (l *Lifecycle) Issue(ctx context.Context, user domain.User) (domain.VerificationCode, error) {
	var issued domain.VerificationCode
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		var err error
		issued, err = l.IssueIn(ctx, tx, user)
		return err
	})
	if err != nil {
		return domain.VerificationCode{}, err
	}
	return issued, nil
}

// IssueIn creates and persists a code on the caller's transaction and mails
// it to the user before the transaction commits, so a delivery failure
// rolls back everything the transaction did (including signup's user row).
// On a code-value collision it retries with a new value, then gives up with
// domain.ErrCodeGeneration.
func (l *Lifecycle) IssueIn(ctx context.Context, tx repository.Store, user domain.User) (domain.VerificationCode, error) {
	var code domain.VerificationCode
	for attempt := 0; ; attempt++ {
		var err error
		code, err = domain.NewVerificationCode(user, l.now())
		if err != nil {
			return domain.VerificationCode{}, fmt.Errorf("%w: %v", domain.ErrCodeGeneration, err)
		}
		err = tx.Codes().Create(ctx, code)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicateCode) {
			return domain.VerificationCode{}, err
		}
		if attempt+1 >= maxCodeAttempts {
			return domain.VerificationCode{}, domain.ErrCodeGeneration
		}
		l.logger.Warn("verification code collision, regenerating",
			zap.String("user_id", user.ID), zap.Int("attempt", attempt+1))
	}

	if err := l.mailer.Send(ctx, user.Email, "Verification Code", "Your verification code: "+code.Code); err != nil {
		return domain.VerificationCode{}, fmt.Errorf("send verification mail: %w", err)
	}

	l.logger.Info("verification code issued",
		zap.String("verification_id", code.ID), zap.String("user_id", user.ID))
	return code, nil
}

// Consume redeems a code and runs fn atomically with the code's deletion.
// Failure kinds: ErrInvalidVerificationID (unknown or already consumed),
// ErrInvalidVerificationCode (wrong value), ErrVerificationExpired (past
// expiry; the row is deleted as a side effect even though the call fails).
func (l *Lifecycle) Consume(ctx context.Context, verificationID, suppliedCode string, fn ConsumeFunc) error {
	return l.consume(ctx, "", verificationID, suppliedCode, fn)
}

// ConsumeForUser is Consume restricted to codes owned by ownerID; a code
// belonging to someone else fails with ErrInvalidVerificationUser.
func (l *Lifecycle) ConsumeForUser(ctx context.Context, ownerID, verificationID, suppliedCode string, fn ConsumeFunc) error {
	return l.consume(ctx, ownerID, verificationID, suppliedCode, fn)
}

func (l *Lifecycle) consume(ctx context.Context, ownerID, verificationID, suppliedCode string, fn ConsumeFunc) error {
	code, user, err := l.store.Codes().GetWithUser(ctx, verificationID)
	if err != nil {
		return err
	}
	if err := l.validate(code, user, ownerID, suppliedCode); err != nil {
		if errors.Is(err, domain.ErrVerificationExpired) {
			l.cleanupExpired(ctx, verificationID)
		}
		return err
	}

	err = l.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		// Re-validate under the transaction: the pre-transaction read can
		// race a concurrent consume of the same code, and only one caller's
		// mutation may run.
		current, err := tx.Codes().Get(ctx, verificationID)
		if err != nil {
			return err
		}
		if err := l.validate(current, user, ownerID, suppliedCode); err != nil {
			return err
		}
		deleted, err := tx.Codes().Delete(ctx, verificationID)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrInvalidVerificationID
		}
		return fn(ctx, tx, user)
	})
	if errors.Is(err, domain.ErrVerificationExpired) {
		// The rollback restored the row; expired codes are still cleaned up.
		l.cleanupExpired(ctx, verificationID)
	}
	if err == nil {
		l.logger.Info("verification code consumed",
			zap.String("verification_id", verificationID), zap.String("user_id", user.ID))
	}
	return err
}

// Resend invalidates the requester's outstanding code and issues a new one
// as a single atomic unit.
func (l *Lifecycle) Resend(ctx context.Context, requester domain.User, oldVerificationID string) (domain.VerificationCode, error) {
	var issued domain.VerificationCode
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		old, err := tx.Codes().Get(ctx, oldVerificationID)
		if err != nil {
			return err
		}
		if old.UserID != requester.ID {
			return domain.ErrInvalidVerificationUser
		}
		deleted, err := tx.Codes().Delete(ctx, oldVerificationID)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrInvalidVerificationID
		}
		issued, err = l.IssueIn(ctx, tx, requester)
		return err
	})
	if err != nil {
		return domain.VerificationCode{}, err
	}
	return issued, nil
}

func (l *Lifecycle) validate(code domain.VerificationCode, user domain.User, ownerID, suppliedCode string) error {
	if ownerID != "" && user.ID != ownerID {
		return domain.ErrInvalidVerificationUser
	}
	if code.Code != suppliedCode {
		return domain.ErrInvalidVerificationCode
	}
	if code.Expired(l.now()) {
		return domain.ErrVerificationExpired
	}
	return nil
}

func (l *Lifecycle) cleanupExpired(ctx context.Context, verificationID string) {
	if _, err := l.store.Codes().Delete(ctx, verificationID); err != nil {
		l.logger.Error("expired verification code cleanup failed",
			zap.String("verification_id", verificationID), zap.Error(err))
	}
}
