package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wiredan/wiredan/internal/circuitbreaker"
	"github.com/wiredan/wiredan/internal/traces"
)

const (
	opInitialize = "initialize"
	opVerify     = "verify"
	opRefund     = "refund"

	maxResponseBytes = 1 << 20
)

// Config holds the gateway connection settings.
type Config struct {
	SecretKey   string
	BaseURL     string // e.g. "https://api.paystack.co"
	CallbackURL string
	Timeout     time.Duration
}

// Client is an HTTP client for the Paystack transaction API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker sets the per-operation circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a gateway client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker returns the circuit breaker, or nil when none is configured.
func (c *Client) Breaker() *circuitbreaker.Breaker { return c.breaker }

// envelope is the response shape shared by every Paystack endpoint.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Email       string   `json:"email"`
	Amount      int64    `json:"amount"`
	Reference   string   `json:"reference"`
	Currency    string   `json:"currency,omitempty"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// InitializeRequest describes a checkout to open at the provider.
type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Currency    string
	Reference   string
	Metadata    Metadata
}

// Initialize opens a transaction and returns the checkout URL.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (_ *InitResult, err error) {
	ctx, span := traces.StartSpan(ctx, "paystack.Initialize",
		traces.GatewayOp(opInitialize),
		traces.Reference(req.Reference),
		traces.AmountMinor(req.AmountMinor),
	)
	defer func() { traces.End(span, err) }()

	body := initializeRequest{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Reference:   req.Reference,
		Currency:    req.Currency,
		CallbackURL: c.cfg.CallbackURL,
		Metadata:    req.Metadata,
	}
	var out InitResult
	if err := c.call(ctx, opInitialize, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	if out.Reference == "" {
		out.Reference = req.Reference
	}
	return &out, nil
}

type verifyData struct {
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
	Metadata  json.RawMessage `json:"metadata"`
	PaidAt    *time.Time      `json:"paid_at"`
}

// Verify fetches the authoritative status of a transaction.
func (c *Client) Verify(ctx context.Context, reference string) (_ *PaymentResult, err error) {
	ctx, span := traces.StartSpan(ctx, "paystack.Verify",
		traces.GatewayOp(opVerify),
		traces.Reference(reference),
	)
	defer func() { traces.End(span, err) }()

	var data verifyData
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.call(ctx, opVerify, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	res := &PaymentResult{
		Status:      PaymentStatus(strings.ToLower(data.Status)),
		AmountMinor: data.Amount,
		Currency:    strings.ToUpper(data.Currency),
		Reference:   data.Reference,
		PaidAt:      data.PaidAt,
	}
	if len(data.Metadata) > 0 {
		if err := json.Unmarshal(data.Metadata, &res.Metadata); err != nil {
			// Metadata from a foreign transaction; leave it empty so the
			// caller rejects it as not ours.
			c.logger.Warn("paystack: unparseable metadata", "reference", reference, "error", err)
		}
	}
	if res.Reference == "" {
		res.Reference = reference
	}
	return res, nil
}

type refundRequest struct {
	Transaction string `json:"transaction"`
	Amount      int64  `json:"amount,omitempty"`
}

type refundData struct {
	Status string `json:"status"`
}

// Refund asks the provider to return a captured transaction to the payer.
// amountMinor of 0 refunds the full transaction.
func (c *Client) Refund(ctx context.Context, reference string, amountMinor int64) (_ *RefundResult, err error) {
	ctx, span := traces.StartSpan(ctx, "paystack.Refund",
		traces.GatewayOp(opRefund),
		traces.Reference(reference),
		traces.AmountMinor(amountMinor),
	)
	defer func() { traces.End(span, err) }()

	var data refundData
	body := refundRequest{Transaction: reference, Amount: amountMinor}
	if err := c.call(ctx, opRefund, http.MethodPost, "/refund", body, &data); err != nil {
		return nil, err
	}
	return &RefundResult{Accepted: true, Status: data.Status}, nil
}

// call runs one request through the breaker and records metrics.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	run := func() error { return c.do(ctx, op, method, path, body, out) }

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(op, IsTransient, run)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = &GatewayError{Op: op, Detail: "circuit open", Err: err}
		}
	} else {
		err = run()
	}

	observeCall(op, err, time.Since(start))
	if err != nil {
		c.logger.Warn("paystack call failed", "op", op, "error", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Op: op, Detail: "encode request", Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return &GatewayError{Op: op, Detail: "create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Detail: err.Error(), timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Detail: "read response", timeout: isTimeout(err), Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		detail := strings.TrimSpace(string(raw))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Detail: detail, Err: err}
	}
	if resp.StatusCode >= 400 || !env.Status {
		detail := env.Message
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Detail: detail}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &GatewayError{Op: op, StatusCode: resp.StatusCode, Detail: fmt.Sprintf("decode data: %v", err), Err: err}
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
