package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/apperr"
)

// Handler provides HTTP endpoints for token inspection and minting
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterProtectedRoutes sets up routes that require a token.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/tokens", h.IssueToken)
}

// Me returns the authenticated caller.
func (h *Handler) Me(c *gin.Context) {
	p, ok := GetPrincipal(c)
	if !ok {
		apperr.Respond(c, ErrNoToken)
		return
	}
	c.JSON(http.StatusOK, p)
}

// IssueTokenRequest mints a token for a service account or support agent.
type IssueTokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email"`
	TTL    string `json:"ttl"` // duration string, e.g. "1h"
}

// IssueToken mints a token. Admin only.
func (h *Handler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validationf("invalid request: %v", err))
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			apperr.Respond(c, apperr.Validationf("ttl must be a positive duration"))
			return
		}
		ttl = d
	}

	token, err := h.manager.Issue(req.UserID, req.Email, ttl)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "admin": h.manager.IsAdmin(req.UserID)})
}
