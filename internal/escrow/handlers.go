package escrow

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/auth"
	"github.com/wiredan/wiredan/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up routes that require a token.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/init", h.Init)
	r.GET("/escrow/verify", h.Verify)
	r.POST("/escrow/release", h.Release)
	r.POST("/dispute/open", h.OpenDispute)
	r.GET("/dispute/:id", validation.IDParamMiddleware(), h.ListDisputes)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/refund", h.Refund)
	r.POST("/dispute/resolve", h.ResolveDispute)
}

func actorFrom(c *gin.Context) Actor {
	return Actor{ID: auth.UserID(c), Admin: auth.IsAdmin(c)}
}

// InitRequest opens a checkout for an order.
type InitRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	BuyerEmail string `json:"buyer_email" binding:"omitempty,email"`
}

// Init handles POST /escrow/init
func (h *Handler) Init(c *gin.Context) {
	var req InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validationf("invalid request: %v", err))
		return
	}
	if req.BuyerEmail == "" {
		if p, ok := auth.GetPrincipal(c); ok {
			req.BuyerEmail = p.Email
		}
	}
	if err := validation.Validate(
		validation.ValidID("order_id", req.OrderID),
		validation.Required("buyer_email", req.BuyerEmail),
		validation.Email("buyer_email", req.BuyerEmail),
	); err != nil {
		apperr.Respond(c, err)
		return
	}

	res, err := h.service.InitEscrow(c.Request.Context(), req.OrderID, req.BuyerEmail, actorFrom(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Verify handles GET /escrow/verify?reference=
func (h *Handler) Verify(c *gin.Context) {
	ref := c.Query("reference")
	if err := validation.Validate(
		validation.Required("reference", ref),
		validation.ValidReference("reference", ref),
	); err != nil {
		apperr.Respond(c, err)
		return
	}

	res, err := h.service.Verify(c.Request.Context(), ref, actorFrom(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// OrderRequest names the order an operation applies to.
type OrderRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

func bindOrder(c *gin.Context) (string, bool) {
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validationf("invalid request: %v", err))
		return "", false
	}
	if err := validation.Validate(validation.ValidID("order_id", req.OrderID)); err != nil {
		apperr.Respond(c, err)
		return "", false
	}
	return req.OrderID, true
}

// Release handles POST /escrow/release
func (h *Handler) Release(c *gin.Context) {
	orderID, ok := bindOrder(c)
	if !ok {
		return
	}
	e, err := h.service.Release(c.Request.Context(), orderID, actorFrom(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// Refund handles POST /escrow/refund
func (h *Handler) Refund(c *gin.Context) {
	orderID, ok := bindOrder(c)
	if !ok {
		return
	}
	e, err := h.service.Refund(c.Request.Context(), orderID, actorFrom(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// DisputeRequest contains the parameters for disputing an order.
type DisputeRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

// OpenDispute handles POST /dispute/open
func (h *Handler) OpenDispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validationf("invalid request: %v", err))
		return
	}
	if err := validation.Validate(
		validation.ValidID("order_id", req.OrderID),
		validation.MaxLength("reason", req.Reason, validation.MaxReasonLength),
	); err != nil {
		apperr.Respond(c, err)
		return
	}

	d, err := h.service.OpenDispute(c.Request.Context(), req.OrderID,
		validation.SanitizeString(req.Reason, validation.MaxReasonLength), actorFrom(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// ResolveRequest contains an admin's dispute decision.
type ResolveRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Action  string `json:"action" binding:"required"`
}

// ResolveDispute handles POST /dispute/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validationf("invalid request: %v", err))
		return
	}
	if err := validation.Validate(
		validation.ValidID("order_id", req.OrderID),
		validation.OneOf("action", req.Action, string(ResolveRelease), string(ResolveRefund)),
	); err != nil {
		apperr.Respond(c, err)
		return
	}

	e, err := h.service.ResolveDispute(c.Request.Context(), req.OrderID, Resolution(req.Action), actorFrom(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// ListDisputes handles GET /dispute/:id where id is the order id.
func (h *Handler) ListDisputes(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")

	e, err := h.service.Get(ctx, orderID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	actor := actorFrom(c)
	if !actor.Admin && actor.ID != e.BuyerID && actor.ID != e.SellerID {
		apperr.Respond(c, ErrForbidden)
		return
	}

	disputes, err := h.service.Disputes(ctx, orderID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if disputes == nil {
		disputes = []*Dispute{}
	}
	c.JSON(http.StatusOK, gin.H{"disputes": disputes})
}
