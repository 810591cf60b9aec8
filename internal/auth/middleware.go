package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects the actor into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := verifyBearer(c, m)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid bearer token"})
			return
		}
		setActor(c, a)
		c.Next()
	}
}

// OptionalAccessToken attaches the actor when a valid token is present and
// lets anonymous requests through. Invalid tokens are treated as anonymous.
func OptionalAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a, ok := verifyBearer(c, m); ok {
			setActor(c, a)
		}
		c.Next()
	}
}

func verifyBearer(c *gin.Context, m *Manager) (Actor, bool) {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
		return Actor{}, false
	}
	claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, time.Now())
	if err != nil {
		return Actor{}, false
	}
	return claims.Actor(), true
}

func setActor(c *gin.Context, a Actor) {
	c.Request = c.Request.WithContext(WithActor(c.Request.Context(), a))

	// Also store on gin context for handler convenience and request logging.
	c.Set("user_id", a.ID)
	c.Set("role", a.Role)
}
