package orders

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/auth"
	"github.com/wiredan/wiredan/internal/pagination"
)

// EscrowSummary is the escrow side of an order's tracking view.
type EscrowSummary struct {
	Status            string    `json:"status"`
	AmountMinor       int64     `json:"amountMinor"`
	BuyerFeeMinor     int64     `json:"buyerFeeMinor"`
	ProviderReference string    `json:"providerReference"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// EscrowView looks up the escrow attached to an order, if any.
type EscrowView interface {
	EscrowSummary(ctx context.Context, orderID string) (*EscrowSummary, error)
}

// Streamer serves a live status stream for one order.
type Streamer interface {
	ServeOrder(w http.ResponseWriter, r *http.Request, orderID string)
}

// Handler provides HTTP endpoints for orders.
type Handler struct {
	service *Service
	escrow  EscrowView
	stream  Streamer
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEscrowView adds escrow status to order tracking responses.
func (h *Handler) WithEscrowView(v EscrowView) *Handler {
	h.escrow = v
	return h
}

// WithStreamer enables the websocket status stream.
func (h *Handler) WithStreamer(s Streamer) *Handler {
	h.stream = s
	return h
}

// RegisterProtectedRoutes sets up routes that require a token.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.Create)
	r.GET("/orders", h.List)
	r.GET("/orders/:id", h.Track)
	if h.stream != nil {
		r.GET("/orders/:id/stream", h.Stream)
	}
}

// CreateRequest places an order.
type CreateRequest struct {
	ListingID string `json:"listing_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required"`
}

// Create handles POST /orders.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validationf("invalid request: %v", err))
		return
	}

	o, err := h.service.Create(c.Request.Context(), auth.UserID(c), req.ListingID, req.Quantity)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": o})
}

// List handles GET /orders?cursor=&limit=.
func (h *Handler) List(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		apperr.Respond(c, apperr.Validationf("invalid cursor"))
		return
	}

	items, err := h.service.ListForUser(c.Request.Context(), auth.UserID(c), cursor, limit+1)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	page := pagination.NewPage(items, limit, func(o *Order) (time.Time, string) {
		return o.CreatedAt, o.ID
	})
	c.JSON(http.StatusOK, page)
}

// Track handles GET /orders/:id: the order, its escrow and its timeline.
func (h *Handler) Track(c *gin.Context) {
	ctx := c.Request.Context()
	o, err := h.service.Get(ctx, c.Param("id"), auth.UserID(c), auth.IsAdmin(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	timeline, err := h.service.Timeline(ctx, o.ID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	resp := gin.H{"order": o, "timeline": timeline}
	if h.escrow != nil {
		summary, err := h.escrow.EscrowSummary(ctx, o.ID)
		if err != nil && apperr.KindOf(err) != apperr.NotFound {
			apperr.Respond(c, err)
			return
		}
		resp["escrow"] = summary
	}
	c.JSON(http.StatusOK, resp)
}

// Stream upgrades to a websocket carrying the order's status changes.
func (h *Handler) Stream(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"), auth.UserID(c), auth.IsAdmin(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	h.stream.ServeOrder(c.Writer, c.Request, o.ID)
}
