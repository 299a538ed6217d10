package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/formica-tech/formic-api/internal/domain"
	"github.com/formica-tech/formic-api/internal/identity"
)

const currentUserKey = "currentUser"

// Auth resolves the bearer token to a live user record.
type Auth struct {
	Identity *identity.Service
}

// RequireUser rejects requests without a valid bearer token and attaches
// the resolved user to the context.
func (m *Auth) RequireUser(c *gin.Context) {
	user, ok := m.resolve(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "A valid bearer token is required."})
		return
	}
	c.Set(currentUserKey, user)
	c.Next()
}

func (m *Auth) resolve(c *gin.Context) (domain.User, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return domain.User{}, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return domain.User{}, false
	}
	user, err := m.Identity.ParseToken(c.Request.Context(), parts[1])
	if err != nil {
		return domain.User{}, false
	}
	return user, true
}

// GetCurrentUser extracts the authenticated user from gin.
func GetCurrentUser(c *gin.Context) (domain.User, bool) {
	value, ok := c.Get(currentUserKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := value.(domain.User)
	return user, ok
}
