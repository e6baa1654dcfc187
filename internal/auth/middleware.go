package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/logging"
)

// ContextKeyPrincipal is the key for storing the authenticated caller in gin context
const ContextKeyPrincipal = "authPrincipal"

// Middleware extracts and validates the bearer token if present.
// Invalid tokens are treated as anonymous; RequireAuth rejects them.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearerToken(c.GetHeader("Authorization")); raw != "" {
			if p, err := m.Validate(raw); err == nil {
				c.Set(ContextKeyPrincipal, p)
				c.Request = c.Request.WithContext(logging.WithActor(c.Request.Context(), p.UserID))
			}
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireAuth middleware rejects requests without a valid token
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			apperr.Respond(c, ErrNoToken)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin middleware requires auth AND admin privileges
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			apperr.Respond(c, ErrNoToken)
			c.Abort()
			return
		}
		if !p.Admin {
			apperr.Respond(c, ErrNotAdmin)
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the authenticated caller (if any)
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}

// UserID returns the authenticated user id, or "".
func UserID(c *gin.Context) string {
	if p, ok := GetPrincipal(c); ok {
		return p.UserID
	}
	return ""
}

// IsAdmin reports whether the caller is an authenticated admin.
func IsAdmin(c *gin.Context) bool {
	p, ok := GetPrincipal(c)
	return ok && p.Admin
}
