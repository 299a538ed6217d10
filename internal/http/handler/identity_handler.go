// Package handler maps the identity flows onto HTTP endpoints and the
// error taxonomy onto discriminated JSON responses.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/formica-tech/formic-api/internal/domain"
	"github.com/formica-tech/formic-api/internal/http/middleware"
	"github.com/formica-tech/formic-api/internal/identity"
	"github.com/formica-tech/formic-api/internal/metrics"
)

// IdentityHandler serves the account endpoints.
type IdentityHandler struct {
	Identity *identity.Service
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// NewIdentityHandler creates the handler set.
func NewIdentityHandler(svc *identity.Service, collector *metrics.Collector, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{Identity: svc, Metrics: collector, Logger: logger}
}

// Login exchanges credentials for a bearer token. Unknown accounts and bad
// passwords get the same response, so the endpoint does not leak which
// emails are registered.
func (h *IdentityHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and password are required."})
		return
	}

	token, err := h.Identity.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrLoginFailed) {
			h.Metrics.RecordLogin(false)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "error_description": "Invalid email or password."})
			return
		}
		h.serverError(c, err)
		return
	}

	h.Metrics.RecordLogin(true)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// SignUp registers an account, issues its verification code, and logs the
// fresh user straight in.
func (h *IdentityHandler) SignUp(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "A valid email and a password of at least 8 characters are required."})
		return
	}

	verificationID, err := h.Identity.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_signed_up", "email": req.Email})
			return
		}
		h.serverError(c, err)
		return
	}

	token, err := h.Identity.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.serverError(c, err)
		return
	}

	h.Metrics.RecordSignup()
	h.Metrics.RecordCodeIssued()
	c.JSON(http.StatusOK, gin.H{"verificationId": verificationID, "token": token})
}

// Verify redeems a code for the authenticated user and marks the account
// verified.
func (h *IdentityHandler) Verify(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}

	var req struct {
		ID   string `json:"id" binding:"required"`
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id and code are required."})
		return
	}

	if err := h.Identity.Verify(c.Request.Context(), &user, req.Code, req.ID); err != nil {
		h.respondVerificationError(c, err)
		return
	}

	h.Metrics.RecordCodeConsumed()
	c.JSON(http.StatusOK, gin.H{"id": req.ID})
}

// ForgotPassword issues a reset code. The result is a discriminated union:
// a verification handle, or a distinct user-not-found outcome.
func (h *IdentityHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email is required."})
		return
	}

	verificationID, err := h.Identity.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found", "email": req.Email})
			return
		}
		h.serverError(c, err)
		return
	}

	h.Metrics.RecordCodeIssued()
	c.JSON(http.StatusOK, gin.H{"verificationId": verificationID})
}

// RestorePassword redeems a reset code and replaces the password.
func (h *IdentityHandler) RestorePassword(c *gin.Context) {
	var req struct {
		ID       string `json:"id" binding:"required"`
		Code     string `json:"code" binding:"required"`
		Password string `json:"password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id, code, and a password of at least 8 characters are required."})
		return
	}

	user, err := h.Identity.RestorePassword(c.Request.Context(), req.ID, req.Code, req.Password)
	if err != nil {
		h.respondVerificationError(c, err)
		return
	}

	h.Metrics.RecordCodeConsumed()
	c.JSON(http.StatusOK, gin.H{"email": user.Email})
}

// ResendCode supersedes the caller's outstanding code with a fresh one.
func (h *IdentityHandler) ResendCode(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}

	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id is required."})
		return
	}

	verificationID, err := h.Identity.ResendCode(c.Request.Context(), user, req.ID)
	if err != nil {
		h.respondVerificationError(c, err)
		return
	}

	h.Metrics.RecordCodeIssued()
	c.JSON(http.StatusOK, gin.H{"verificationId": verificationID})
}

// Me echoes the authenticated identity.
func (h *IdentityHandler) Me(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
		"verified": user.Verified,
	})
}

// UploadProfilePicture stores the multipart "file" part. Storage failures
// are reported as uploaded=false rather than a request failure.
func (h *IdentityHandler) UploadProfilePicture(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "A multipart 'file' part is required."})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Could not read the uploaded file."})
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if err := h.Identity.UploadProfilePicture(c.Request.Context(), user, file, contentType); err != nil {
		h.Logger.Error("profile picture upload failed", zap.String("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"uploaded": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploaded": true})
}

// ProfilePicture streams the stored picture back with its content type.
func (h *IdentityHandler) ProfilePicture(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}

	object, err := h.Identity.ProfilePicture(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "No profile picture stored."})
		return
	}
	defer object.Body.Close()

	c.DataFromReader(http.StatusOK, -1, object.ContentType, object.Body, nil)
}

// Health reports liveness.
func (h *IdentityHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *IdentityHandler) respondVerificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidVerificationID):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_verification_id", "error_description": "Unknown or already consumed verification id."})
	case errors.Is(err, domain.ErrInvalidVerificationUser):
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid_verification_user", "error_description": "The verification code belongs to a different user."})
	case errors.Is(err, domain.ErrInvalidVerificationCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_verification_code", "error_description": "The supplied code is wrong."})
	case errors.Is(err, domain.ErrVerificationExpired):
		h.Metrics.RecordCodeExpired()
		c.JSON(http.StatusGone, gin.H{"error": "verification_expired", "error_description": "The verification code has expired; request a new one."})
	case errors.Is(err, domain.ErrUserNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
	case errors.Is(err, domain.ErrCodeGeneration):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "code_generation_failed", "error_description": "Could not issue a new verification code."})
	default:
		h.serverError(c, err)
	}
}

func (h *IdentityHandler) serverError(c *gin.Context, err error) {
	h.Logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Unexpected failure."})
}
