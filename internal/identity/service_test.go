package identity_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formica-tech/formic-api/internal/domain"
	"github.com/formica-tech/formic-api/internal/identity"
	"github.com/formica-tech/formic-api/internal/objectstore"
	"github.com/formica-tech/formic-api/internal/repository"
	"github.com/formica-tech/formic-api/internal/token"
	"github.com/formica-tech/formic-api/internal/verification"
)

type recordingMailer struct {
	sent []string
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, body)
	return nil
}

func (m *recordingMailer) lastCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, m.sent)
	code, ok := strings.CutPrefix(m.sent[len(m.sent)-1], "Your verification code: ")
	require.True(t, ok)
	return code
}

type memoryObjectStore struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (s *memoryObjectStore) Upload(ctx context.Context, kind objectstore.ObjectKind, name string, body io.Reader, contentType string) error {
	if s.err != nil {
		return s.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	key := string(kind) + "/" + name
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

func (s *memoryObjectStore) Read(ctx context.Context, kind objectstore.ObjectKind, name string) (objectstore.Object, error) {
	key := string(kind) + "/" + name
	data, ok := s.objects[key]
	if !ok {
		return objectstore.Object{}, errors.New("no such object")
	}
	return objectstore.Object{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: s.types[key],
	}, nil
}

type fixture struct {
	svc     *identity.Service
	store   *repository.MemoryStore
	codec   *token.Codec
	mailer  *recordingMailer
	objects *memoryObjectStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	codec, err := token.NewCodec(key, &key.PublicKey)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	mailer := &recordingMailer{}
	objects := newMemoryObjectStore()
	lifecycle := verification.NewLifecycle(store, mailer, zap.NewNop())
	svc := identity.NewService(store, codec, lifecycle, objects, zap.NewNop())

	return &fixture{svc: svc, store: store, codec: codec, mailer: mailer, objects: objects}
}

func TestSignUpThenLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	verificationID, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	require.NotEmpty(t, verificationID)

	created, err := f.store.Users().GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "a", created.Username)
	require.False(t, created.Verified)
	require.NotEmpty(t, created.Salt)
	require.NotEqual(t, "pw123456", created.PasswordHash)

	signed, err := f.svc.Login(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)

	payload, err := f.codec.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, created.ID, payload.User.ID)
	require.Equal(t, "a@x.com", payload.User.Email)
	require.Equal(t, []string{"user"}, payload.Hasura.AllowedRoles)
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "a@x.com", "wrong-password")
	require.ErrorIs(t, err, domain.ErrLoginFailed)

	_, err = f.svc.Login(ctx, "nobody@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)

	_, err = f.svc.SignUp(ctx, "a@x.com", "other-password")
	require.ErrorIs(t, err, domain.ErrUserAlreadyExists)
}

func TestSignUpMailFailureLeavesNoUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")

	_, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.Error(t, err)

	// The whole signup rolled back: no orphaned user that can never
	// receive a code.
	_, err = f.store.Users().GetByEmail(ctx, "a@x.com")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestVerifyFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	verificationID, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	code := f.mailer.lastCode(t)

	user, err := f.store.Users().GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)

	err = f.svc.Verify(ctx, nil, code, verificationID)
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	err = f.svc.Verify(ctx, &user, "000000", verificationID)
	require.ErrorIs(t, err, domain.ErrInvalidVerificationCode)

	unchanged, err := f.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, unchanged.Verified)

	require.NoError(t, f.svc.Verify(ctx, &user, code, verificationID))

	verified, err := f.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, verified.Verified)

	// The code is single-use.
	err = f.svc.Verify(ctx, &user, code, verificationID)
	require.ErrorIs(t, err, domain.ErrInvalidVerificationID)
}

func TestVerifyForeignUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	verificationID, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	code := f.mailer.lastCode(t)

	_, err = f.svc.SignUp(ctx, "b@x.com", "pw654321")
	require.NoError(t, err)
	other, err := f.store.Users().GetByEmail(ctx, "b@x.com")
	require.NoError(t, err)

	err = f.svc.Verify(ctx, &other, code, verificationID)
	require.ErrorIs(t, err, domain.ErrInvalidVerificationUser)
}

func TestForgotAndRestorePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)

	_, err = f.svc.ForgotPassword(ctx, "nobody@x.com")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	verificationID, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	code := f.mailer.lastCode(t)

	restored, err := f.svc.RestorePassword(ctx, verificationID, code, "new-password")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", restored.Email)

	_, err = f.svc.Login(ctx, "a@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrLoginFailed)

	_, err = f.svc.Login(ctx, "a@x.com", "new-password")
	require.NoError(t, err)
}

func TestResendCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	oldID, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	oldCode := f.mailer.lastCode(t)

	user, err := f.store.Users().GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)

	newID, err := f.svc.ResendCode(ctx, user, oldID)
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID)

	err = f.svc.Verify(ctx, &user, oldCode, oldID)
	require.ErrorIs(t, err, domain.ErrInvalidVerificationID)

	require.NoError(t, f.svc.Verify(ctx, &user, f.mailer.lastCode(t), newID))
}

func TestParseToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	signed, err := f.svc.Login(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)

	user, err := f.svc.ParseToken(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", user.Email)

	_, err = f.svc.ParseToken(ctx, "garbage")
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	// A valid token whose subject no longer resolves is an auth failure,
	// not a valid identity.
	orphan, err := f.codec.Sign(token.Payload{
		User:   token.UserClaim{ID: "deleted-user", Email: "gone@x.com"},
		Hasura: token.HasuraClaim{AllowedRoles: []string{"user"}},
	})
	require.NoError(t, err)
	_, err = f.svc.ParseToken(ctx, orphan)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestProfilePictureRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SignUp(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	user, err := f.store.Users().GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)

	err = f.svc.UploadProfilePicture(ctx, user, strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)

	object, err := f.svc.ProfilePicture(ctx, user)
	require.NoError(t, err)
	defer object.Body.Close()

	data, err := io.ReadAll(object.Body)
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))
	require.Equal(t, "image/png", object.ContentType)

	f.objects.err = errors.New("storage down")
	err = f.svc.UploadProfilePicture(ctx, user, strings.NewReader("x"), "image/png")
	require.Error(t, err)
}
