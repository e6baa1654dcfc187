package reconciliation

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/apperr"
)

// Handler lets admins trigger a run.
type Handler struct {
	service *Service
}

// NewHandler creates a new reconciliation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/reconcile/pending", h.RunNow)
}

// RunNow handles POST /reconcile/pending
func (h *Handler) RunNow(c *gin.Context) {
	report, err := h.service.Run(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
