package marketplace

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/auth"
)

// Handler exposes identity verification to signed-in users.
type Handler struct {
	verifier Verifier
}

// NewHandler creates a handler backed by verifier.
func NewHandler(verifier Verifier) *Handler {
	return &Handler{verifier: verifier}
}

// RegisterProtectedRoutes sets up routes that require a token.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/kyc/verify", h.Verify)
}

// VerifyRequest carries the caller's identity documents.
type VerifyRequest struct {
	Kind      string `json:"kind" binding:"required"`
	Number    string `json:"number" binding:"required"`
	LegalName string `json:"legal_name"`
}

// Verify submits documents for the caller. Raw documents are passed through
// and never stored here.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validationf("invalid request: %v", err))
		return
	}

	docs := Documents{
		UserID: auth.UserID(c),
		Kind:   req.Kind,
		Number: req.Number,
	}
	if req.LegalName != "" {
		docs.Metadata = map[string]string{"legal_name": req.LegalName}
	}

	id, err := h.verifier.VerifyIdentity(c.Request.Context(), docs)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, id)
}
