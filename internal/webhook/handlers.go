package webhook

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/paystack"
	"github.com/wiredan/wiredan/internal/validation"
)

// Handler exposes the provider callback and the admin inbox view.
type Handler struct {
	ingestor *Ingestor
	store    Store
}

// NewHandler creates a new webhook handler.
func NewHandler(ingestor *Ingestor, store Store) *Handler {
	return &Handler{ingestor: ingestor, store: store}
}

// RegisterRoutes sets up the provider callback. It is authenticated by
// signature, not by token.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/webhook", h.Receive)
}

// RegisterAdminRoutes sets up the delivery inbox view.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks/deliveries", h.ListDeliveries)
}

// Receive handles POST /escrow/webhook
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodySize+1))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) > MaxBodySize {
		c.String(http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	res := h.ingestor.Ingest(c.Request.Context(), body, c.GetHeader(paystack.SignatureHeader))
	switch res.Outcome {
	case OutcomeApplied:
		c.String(http.StatusOK, "ok")
	case OutcomeIgnored:
		c.String(http.StatusOK, "ignored")
	case OutcomeRejected:
		if res.Detail == detailBadSignature {
			c.String(http.StatusUnauthorized, detailBadSignature)
			return
		}
		c.String(http.StatusBadRequest, res.Detail)
	default:
		c.String(http.StatusInternalServerError, "retry later")
	}
}

// ListDeliveries handles GET /webhooks/deliveries?reference=&limit=
func (h *Handler) ListDeliveries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var (
		out []*Delivery
		err error
	)
	if ref := c.Query("reference"); ref != "" {
		if !validation.IsValidReference(ref) {
			apperr.Respond(c, apperr.Validationf("invalid reference"))
			return
		}
		out, err = h.store.ListByReference(c.Request.Context(), ref, limit)
	} else {
		out, err = h.store.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if out == nil {
		out = []*Delivery{}
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": out, "count": len(out)})
}
