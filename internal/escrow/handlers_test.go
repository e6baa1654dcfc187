package escrow

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiredan/wiredan/internal/auth"
	"github.com/wiredan/wiredan/internal/orders"
	"github.com/wiredan/wiredan/internal/paystack"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type handlerEnv struct {
	*testEnv
	router *gin.Engine
	tokens *auth.Manager
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	env := newTestEnv(t)
	m := auth.NewManager("test-secret-test-secret-test-secret", []string{admin.ID})

	r := gin.New()
	r.Use(auth.Middleware(m))
	h := NewHandler(env.svc)
	protected := r.Group("/v1")
	protected.Use(auth.RequireAuth())
	h.RegisterProtectedRoutes(protected)
	adminGroup := r.Group("/v1/admin")
	adminGroup.Use(auth.RequireAdmin())
	h.RegisterAdminRoutes(adminGroup)

	return &handlerEnv{testEnv: env, router: r, tokens: m}
}

func (h *handlerEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		tok, err := h.tokens.Issue(userID, userID+"@example.com", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestHandler_InitUsesTokenEmail(t *testing.T) {
	h := newHandlerEnv(t)
	o := h.placeOrder(t, 10000)

	w := h.do(t, http.MethodPost, "/v1/escrow/init", buyer.ID, gin.H{"order_id": o.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res InitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.RedirectURL)
	assert.Equal(t, StatusPending, res.Escrow.Status)
	assert.Equal(t, "buyer_1@example.com", h.gw.lastInit().Email)
	assert.Equal(t, int64(10200), h.gw.lastInit().AmountMinor)
}

func TestHandler_InitValidation(t *testing.T) {
	h := newHandlerEnv(t)

	w := h.do(t, http.MethodPost, "/v1/escrow/init", buyer.ID, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/v1/escrow/init", buyer.ID, gin.H{"order_id": "ord_1", "buyer_email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/v1/escrow/init", buyer.ID, gin.H{"order_id": "bad id!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/v1/escrow/init", buyer.ID, gin.H{"order_id": "ord_missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RequiresToken(t *testing.T) {
	h := newHandlerEnv(t)

	w := h.do(t, http.MethodPost, "/v1/escrow/release", "", gin.H{"order_id": "ord_1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodPost, "/v1/admin/escrow/refund", buyer.ID, gin.H{"order_id": "ord_1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_ReleaseFlow(t *testing.T) {
	h := newHandlerEnv(t)
	o, _ := h.holdOrder(t, 10000)

	w := h.do(t, http.MethodPost, "/v1/escrow/release", seller.ID, gin.H{"order_id": o.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, "/v1/escrow/release", buyer.ID, gin.H{"order_id": o.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Escrow Escrow `json:"escrow"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, StatusReleased, body.Escrow.Status)
	assert.Equal(t, int64(9800), h.balance(t, seller.ID))

	w = h.do(t, http.MethodPost, "/v1/escrow/release", buyer.ID, gin.H{"order_id": o.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_ReleasePendingConflicts(t *testing.T) {
	h := newHandlerEnv(t)
	o := h.placeOrder(t, 10000)
	w := h.do(t, http.MethodPost, "/v1/escrow/init", buyer.ID, gin.H{"order_id": o.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = h.do(t, http.MethodPost, "/v1/escrow/release", buyer.ID, gin.H{"order_id": o.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "escrow_not_held", body["error"])
}

func TestHandler_AdminRefund(t *testing.T) {
	h := newHandlerEnv(t)
	o, _ := h.holdOrder(t, 10000)

	w := h.do(t, http.MethodPost, "/v1/admin/escrow/refund", admin.ID, gin.H{"order_id": o.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(10000), h.balance(t, buyer.ID))
	assert.Equal(t, orders.StatusRefunded, h.orderStatus(t, o.ID))
}

func TestHandler_DisputeFlow(t *testing.T) {
	h := newHandlerEnv(t)
	o, _ := h.holdOrder(t, 10000)

	w := h.do(t, http.MethodPost, "/v1/dispute/open", buyer.ID, gin.H{"order_id": o.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code, "reason is required")

	w = h.do(t, http.MethodPost, "/v1/dispute/open", buyer.ID, gin.H{"order_id": o.ID, "reason": "never arrived"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(t, http.MethodGet, "/v1/dispute/"+o.ID, seller.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Disputes []Dispute `json:"disputes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Disputes, 1)
	assert.Equal(t, "never arrived", listed.Disputes[0].Reason)

	w = h.do(t, http.MethodGet, "/v1/dispute/"+o.ID, "stranger", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, "/v1/admin/dispute/resolve", admin.ID, gin.H{"order_id": o.ID, "action": "split"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/v1/admin/dispute/resolve", admin.ID, gin.H{"order_id": o.ID, "action": "refund"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(10000), h.balance(t, buyer.ID))
}

func TestHandler_Verify(t *testing.T) {
	h := newHandlerEnv(t)
	o := h.placeOrder(t, 10000)
	w := h.do(t, http.MethodPost, "/v1/escrow/init", buyer.ID, gin.H{"order_id": o.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var res InitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	h.gw.results[res.Reference] = &paystack.PaymentResult{
		Status:      paystack.StatusSuccess,
		AmountMinor: 10200,
		Reference:   res.Reference,
	}

	w = h.do(t, http.MethodGet, "/v1/escrow/verify", buyer.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/v1/escrow/verify?reference="+res.Reference, buyer.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var vr VerifyResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vr))
	assert.Equal(t, OutcomeHeld, vr.Outcome)
	assert.True(t, vr.Applied)
	assert.Equal(t, orders.StatusPaidEscrow, h.orderStatus(t, o.ID))
}
