package handler_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formica-tech/formic-api/internal/config"
	httptransport "github.com/formica-tech/formic-api/internal/http"
	"github.com/formica-tech/formic-api/internal/http/handler"
	"github.com/formica-tech/formic-api/internal/http/middleware"
	"github.com/formica-tech/formic-api/internal/identity"
	"github.com/formica-tech/formic-api/internal/metrics"
	"github.com/formica-tech/formic-api/internal/objectstore"
	"github.com/formica-tech/formic-api/internal/repository"
	"github.com/formica-tech/formic-api/internal/token"
	"github.com/formica-tech/formic-api/internal/verification"
)

type recordingMailer struct {
	bodies []string
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *recordingMailer) lastCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, m.bodies)
	code, ok := strings.CutPrefix(m.bodies[len(m.bodies)-1], "Your verification code: ")
	require.True(t, ok)
	return code
}

type nullObjectStore struct{}

func (nullObjectStore) Upload(ctx context.Context, kind objectstore.ObjectKind, name string, body io.Reader, contentType string) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func (nullObjectStore) Read(ctx context.Context, kind objectstore.ObjectKind, name string) (objectstore.Object, error) {
	return objectstore.Object{Body: io.NopCloser(strings.NewReader("")), ContentType: "application/octet-stream"}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *recordingMailer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	codec, err := token.NewCodec(key, &key.PublicKey)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	mailer := &recordingMailer{}
	lifecycle := verification.NewLifecycle(store, mailer, zap.NewNop())
	svc := identity.NewService(store, codec, lifecycle, nullObjectStore{}, zap.NewNop())

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	identityHandler := handler.NewIdentityHandler(svc, collector, zap.NewNop())
	authMiddleware := &middleware.Auth{Identity: svc}

	cfg := config.Config{
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Authorization", "Content-Type"},
	}
	return httptransport.NewRouter(cfg, zap.NewNop(), identityHandler, authMiddleware, registry), mailer
}

func doJSON(t *testing.T, router *gin.Engine, method, path, bearer string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSignUpLoginVerifyEndToEnd(t *testing.T) {
	router, mailer := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/auth/signup", "", gin.H{"email": "a@x.com", "password": "pw123456"})
	require.Equal(t, http.StatusOK, w.Code)
	signup := decode(t, w)
	verificationID, _ := signup["verificationId"].(string)
	bearer, _ := signup["token"].(string)
	require.NotEmpty(t, verificationID)
	require.NotEmpty(t, bearer)

	// Wrong code leaves the verification usable.
	w = doJSON(t, router, http.MethodPost, "/auth/verify", bearer, gin.H{"id": verificationID, "code": "000000"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_verification_code", decode(t, w)["error"])

	w = doJSON(t, router, http.MethodPost, "/auth/verify", bearer, gin.H{"id": verificationID, "code": mailer.lastCode(t)})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/auth/me", bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode(t, w)
	require.Equal(t, "a@x.com", me["email"])
	require.Equal(t, true, me["verified"])

	// Replay of a consumed code.
	w = doJSON(t, router, http.MethodPost, "/auth/verify", bearer, gin.H{"id": verificationID, "code": mailer.lastCode(t)})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "invalid_verification_id", decode(t, w)["error"])
}

func TestLoginResponses(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/auth/signup", "", gin.H{"email": "a@x.com", "password": "pw123456"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/auth/login", "", gin.H{"email": "a@x.com", "password": "pw123456"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, decode(t, w)["token"])

	// Unknown account and wrong password are indistinguishable.
	wrongPassword := doJSON(t, router, http.MethodPost, "/auth/login", "", gin.H{"email": "a@x.com", "password": "nope-nope"})
	unknownEmail := doJSON(t, router, http.MethodPost, "/auth/login", "", gin.H{"email": "b@x.com", "password": "pw123456"})
	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	require.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestSignUpConflict(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/auth/signup", "", gin.H{"email": "a@x.com", "password": "pw123456"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/auth/signup", "", gin.H{"email": "a@x.com", "password": "pw123456"})
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	require.Equal(t, "already_signed_up", body["error"])
	require.Equal(t, "a@x.com", body["email"])
}

func TestForgotAndRestore(t *testing.T) {
	router, mailer := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/auth/signup", "", gin.H{"email": "a@x.com", "password": "pw123456"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/auth/forgot", "", gin.H{"email": "nobody@x.com"})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "user_not_found", decode(t, w)["error"])

	w = doJSON(t, router, http.MethodPost, "/auth/forgot", "", gin.H{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, w.Code)
	verificationID, _ := decode(t, w)["verificationId"].(string)
	require.NotEmpty(t, verificationID)

	w = doJSON(t, router, http.MethodPost, "/auth/restore", "", gin.H{
		"id": verificationID, "code": mailer.lastCode(t), "password": "fresh-password",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "a@x.com", decode(t, w)["email"])

	w = doJSON(t, router, http.MethodPost, "/auth/login", "", gin.H{"email": "a@x.com", "password": "fresh-password"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequiredEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/auth/verify", "/auth/resend"} {
		w := doJSON(t, router, http.MethodPost, path, "", gin.H{"id": "x", "code": "y"})
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := doJSON(t, router, http.MethodGet, "/auth/me", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	doJSON(t, router, http.MethodPost, "/auth/signup", "", gin.H{"email": "a@x.com", "password": "pw123456"})

	w = doJSON(t, router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "formic_signups_total 1")
}
