package ledger

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/auth"
)

// KYCGate decides whether a user may open a seller account.
type KYCGate interface {
	CheckVerified(ctx context.Context, userID string) error
}

// Handler provides HTTP endpoints for ledger operations
type Handler struct {
	ledger          *Ledger
	kyc             KYCGate
	defaultCurrency string
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, kyc KYCGate, defaultCurrency string) *Handler {
	return &Handler{ledger: ledger, kyc: kyc, defaultCurrency: defaultCurrency}
}

// RegisterProtectedRoutes sets up routes that require a token.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/me", h.MyAccounts)
	r.GET("/accounts/me/entries", h.MyEntries)
	r.POST("/accounts/open", h.Open)
}

// MyAccounts lists the caller's balances.
func (h *Handler) MyAccounts(c *gin.Context) {
	accounts, err := h.ledger.Accounts(c.Request.Context(), auth.UserID(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if accounts == nil {
		accounts = []*Account{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// MyEntries returns the caller's recent ledger entries for one currency.
func (h *Handler) MyEntries(c *gin.Context) {
	currency := c.DefaultQuery("currency", h.defaultCurrency)
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	entries, err := h.ledger.History(c.Request.Context(), auth.UserID(c), currency, limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// OpenRequest opens a seller account. Called when a user's first listing is
// published.
type OpenRequest struct {
	Currency string `json:"currency"`
}

// Open creates the caller's account if KYC has passed. Idempotent.
func (h *Handler) Open(c *gin.Context) {
	var req OpenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.Validationf("invalid request: %v", err))
			return
		}
	}
	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = h.defaultCurrency
	}

	ctx := c.Request.Context()
	userID := auth.UserID(c)
	if err := h.kyc.CheckVerified(ctx, userID); err != nil {
		apperr.Respond(c, err)
		return
	}

	acct, err := h.ledger.Open(ctx, userID, currency)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}
