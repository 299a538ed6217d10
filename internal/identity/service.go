// Package identity is the use-case layer gluing token issuance, password
// checking, and the verification code lifecycle together.
package identity

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formica-tech/formic-api/internal/domain"
	"github.com/formica-tech/formic-api/internal/objectstore"
	"github.com/formica-tech/formic-api/internal/password"
	"github.com/formica-tech/formic-api/internal/repository"
	"github.com/formica-tech/formic-api/internal/token"
	"github.com/formica-tech/formic-api/internal/verification"
)

// defaultRoles is the role set embedded in every issued token.
var defaultRoles = []string{"user"}

// Service implements the account flows: login, signup, verification,
// password recovery, and profile picture storage.
type Service struct {
	store   repository.Store
	codec   *token.Codec
	codes   *verification.Lifecycle
	objects objectstore.ObjectStore
	logger  *zap.Logger
}

// NewService wires the identity service to its collaborators.
func NewService(
	store repository.Store,
	codec *token.Codec,
	codes *verification.Lifecycle,
	objects objectstore.ObjectStore,
	logger *zap.Logger,
) *Service {
	return &Service{store: store, codec: codec, codes: codes, objects: objects, logger: logger}
}

// Login checks the credentials and returns a signed bearer token. Unknown
// email yields domain.ErrUserNotFound, a bad password domain.ErrLoginFailed;
// the transport layer presents both identically.
func (s *Service) Login(ctx context.Context, email, pass string) (string, error) {
	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if !password.Check(pass, user.Salt, user.PasswordHash) {
		return "", domain.ErrLoginFailed
	}
	signed, err := s.codec.Sign(token.Payload{
		User:   token.UserClaim{ID: user.ID, Email: user.Email},
		Hasura: token.HasuraClaim{AllowedRoles: defaultRoles},
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return signed, nil
}

// SignUp registers a new account and issues its first verification code.
// User creation, code persistence, and mail delivery commit or roll back as
// one unit: a mail failure leaves no orphaned unverified user behind.
func (s *Service) SignUp(ctx context.Context, email, pass string) (string, error) {
	count, err := s.store.Users().CountByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if count > 0 {
		return "", domain.ErrUserAlreadyExists
	}

	salt, err := password.NewSalt()
	if err != nil {
		return "", err
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: password.Hash(pass, salt),
		Salt:         salt,
	}
	if local, _, found := strings.Cut(email, "@"); found && local != "" {
		user.Username = local
	}

	var verificationID string
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		created, err := tx.Users().Create(ctx, user)
		if err != nil {
			return err
		}
		code, err := s.codes.IssueIn(ctx, tx, created)
		if err != nil {
			return err
		}
		verificationID = code.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return verificationID, nil
}

// Verify redeems a code on behalf of the authenticated user and marks the
// account verified. A nil user is an unauthenticated caller.
func (s *Service) Verify(ctx context.Context, user *domain.User, code, verificationID string) error {
	if user == nil {
		return domain.ErrUserNotFound
	}
	return s.codes.ConsumeForUser(ctx, user.ID, verificationID, code,
		func(ctx context.Context, tx repository.Store, owner domain.User) error {
			owner.Verified = true
			return tx.Users().Update(ctx, owner)
		})
}

// ForgotPassword issues a password-reset code for the account and returns
// the verification handle. Prior verification is not required.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	code, err := s.codes.Issue(ctx, user)
	if err != nil {
		return "", err
	}
	return code.ID, nil
}

// RestorePassword redeems a reset code and replaces the password hash with
// a freshly salted one.
func (s *Service) RestorePassword(ctx context.Context, verificationID, code, newPassword string) (domain.User, error) {
	var updated domain.User
	err := s.codes.Consume(ctx, verificationID, code,
		func(ctx context.Context, tx repository.Store, owner domain.User) error {
			salt, err := password.NewSalt()
			if err != nil {
				return err
			}
			owner.Salt = salt
			owner.PasswordHash = password.Hash(newPassword, salt)
			if err := tx.Users().Update(ctx, owner); err != nil {
				return err
			}
			updated = owner
			return nil
		})
	if err != nil {
		return domain.User{}, err
	}
	s.logger.Info("password restored", zap.String("user_id", updated.ID))
	return updated, nil
}

// ResendCode replaces the user's outstanding code with a fresh one.
func (s *Service) ResendCode(ctx context.Context, user domain.User, oldVerificationID string) (string, error) {
	code, err := s.codes.Resend(ctx, user, oldVerificationID)
	if err != nil {
		return "", err
	}
	return code.ID, nil
}

// ParseToken verifies a bearer token and resolves it to a live user record.
// A token whose subject no longer exists is an authentication failure.
func (s *Service) ParseToken(ctx context.Context, raw string) (domain.User, error) {
	payload, err := s.codec.Verify(raw)
	if err != nil {
		return domain.User{}, err
	}
	return s.store.Users().GetByID(ctx, payload.User.ID)
}

// UploadProfilePicture stores the user's picture. Failures are recoverable
// and surface as a boolean outcome at the HTTP boundary.
func (s *Service) UploadProfilePicture(ctx context.Context, user domain.User, file io.Reader, contentType string) error {
	if err := s.objects.Upload(ctx, objectstore.ProfilePicture, user.ID, file, contentType); err != nil {
		return fmt.Errorf("upload profile picture for %s: %w", user.ID, err)
	}
	return nil
}

// ProfilePicture streams the user's stored picture back.
func (s *Service) ProfilePicture(ctx context.Context, user domain.User) (objectstore.Object, error) {
	return s.objects.Read(ctx, objectstore.ProfilePicture, user.ID)
}
