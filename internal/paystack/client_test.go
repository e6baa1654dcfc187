package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/circuitbreaker"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		SecretKey:   "sk_test_123",
		BaseURL:     srv.URL,
		CallbackURL: "https://shop.example/callback",
		Timeout:     2 * time.Second,
	}, opts...)
}

func TestInitialize(t *testing.T) {
	var got initializeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ref_1"}}`)
	})

	res, err := c.Initialize(context.Background(), InitializeRequest{
		Email:       "buyer@example.com",
		AmountMinor: 10_200,
		Currency:    "NGN",
		Reference:   "ref_1",
		Metadata: Metadata{
			OrderID:  "ord_1",
			BuyerID:  "u_b",
			SellerID: "u_s",
			Type:     MetadataTypeEscrow,
			BuyerFee: 200,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", res.AuthorizationURL)
	assert.Equal(t, "ref_1", res.Reference)

	assert.Equal(t, int64(10_200), got.Amount)
	assert.Equal(t, "buyer@example.com", got.Email)
	assert.Equal(t, "https://shop.example/callback", got.CallbackURL)
	assert.Equal(t, "ord_1", got.Metadata.OrderID)
	assert.Equal(t, int64(200), got.Metadata.BuyerFee)
	assert.Equal(t, MetadataTypeEscrow, got.Metadata.Type)
}

func TestInitialize_ProviderRejects(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status":false,"message":"Invalid Email Address Passed"}`)
	})

	_, err := c.Initialize(context.Background(), InitializeRequest{Reference: "ref_x", AmountMinor: 100})
	require.Error(t, err)

	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "initialize", ge.Op)
	assert.Equal(t, http.StatusBadRequest, ge.StatusCode)
	assert.Equal(t, "Invalid Email Address Passed", ge.Detail)
	assert.False(t, ge.Transient())
	assert.Equal(t, apperr.Gateway, apperr.KindOf(err))
}

func TestInitialize_StatusFalseOn200(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":false,"message":"Duplicate Transaction Reference"}`)
	})

	_, err := c.Initialize(context.Background(), InitializeRequest{Reference: "ref_dup"})
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "Duplicate Transaction Reference", ge.Detail)
}

func TestVerify(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/transaction/verify/ref_1", r.URL.Path)
		_, _ = io.WriteString(w, `{"status":true,"message":"Verification successful","data":{
			"status":"success","amount":10200,"currency":"ngn","reference":"ref_1",
			"paid_at":"2026-03-01T10:00:00.000Z",
			"metadata":{"order_id":"ord_1","buyer_id":"u_b","seller_id":"u_s","type":"escrow","buyer_fee":"200"}}}`)
	})

	res, err := c.Verify(context.Background(), "ref_1")
	require.NoError(t, err)
	assert.True(t, res.Status.Succeeded())
	assert.Equal(t, int64(10_200), res.AmountMinor)
	assert.Equal(t, "NGN", res.Currency)
	assert.Equal(t, "ord_1", res.Metadata.OrderID)
	assert.Equal(t, int64(200), res.Metadata.BuyerFee)
	assert.True(t, res.Metadata.IsEscrow())
	require.NotNil(t, res.PaidAt)
}

func TestVerify_FailedAndEmptyMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":{"status":"abandoned","amount":500,"reference":"ref_2","metadata":""}}`)
	})

	res, err := c.Verify(context.Background(), "ref_2")
	require.NoError(t, err)
	assert.True(t, res.Status.Failed())
	assert.False(t, res.Metadata.IsEscrow())
}

func TestRefund(t *testing.T) {
	var got refundRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"status":true,"message":"Refund has been queued for processing","data":{"status":"pending"}}`)
	})

	res, err := c.Refund(context.Background(), "ref_1", 0)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, "ref_1", got.Transaction)
	assert.Zero(t, got.Amount)
}

func TestServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	})

	_, err := c.Verify(context.Background(), "ref_1")
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusBadGateway, ge.StatusCode)
	assert.Equal(t, "upstream down", ge.Detail)
	assert.True(t, IsTransient(err))
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewClient(Config{SecretKey: "sk", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Verify(context.Background(), "ref_slow")

	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.True(t, ge.Timeout())
	assert.True(t, ge.Transient())
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithBreaker(circuitbreaker.New(2, time.Minute)))

	for i := 0; i < 2; i++ {
		_, err := c.Verify(context.Background(), "ref")
		require.Error(t, err)
	}
	_, err := c.Verify(context.Background(), "ref")
	require.Error(t, err)
	assert.True(t, errors.Is(err, circuitbreaker.ErrOpen))
	assert.Equal(t, int32(2), calls.Load(), "open circuit must not reach the provider")

	// Other operations have their own circuit.
	assert.Equal(t, circuitbreaker.StateClosed, c.Breaker().State("refund"))
}

func TestBreakerIgnoresBusinessRejections(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status":false,"message":"Transaction reference not found"}`)
	}, WithBreaker(circuitbreaker.New(1, time.Minute)))

	for i := 0; i < 3; i++ {
		_, err := c.Verify(context.Background(), "missing")
		require.Error(t, err)
		assert.False(t, errors.Is(err, circuitbreaker.ErrOpen))
	}
}

func TestMetadataUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Metadata
	}{
		{"object", `{"order_id":"o","type":"escrow","buyer_fee":15}`, Metadata{OrderID: "o", Type: "escrow", BuyerFee: 15}},
		{"string fee", `{"order_id":"o","buyer_fee":"15"}`, Metadata{OrderID: "o", BuyerFee: 15}},
		{"encoded string", `"{\"order_id\":\"o\",\"type\":\"escrow\"}"`, Metadata{OrderID: "o", Type: "escrow"}},
		{"empty string", `""`, Metadata{}},
		{"null", `null`, Metadata{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Metadata
			require.NoError(t, json.Unmarshal([]byte(tt.in), &m))
			assert.Equal(t, tt.want, m)
		})
	}
}
