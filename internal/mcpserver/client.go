package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the settings for reaching the escrow API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	Token  string // admin bearer token
}

// Client is a thin HTTP client for the escrow API's support endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the API's error body.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d %s): %s", resp.StatusCode, apiErr.Error, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return json.RawMessage(respBody), nil
}

// GetOrder returns the order with its escrow summary and timeline.
func (c *Client) GetOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, nil)
}

// VerifyPayment asks the API to re-check a reference with the provider.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrow/verify", url.Values{"reference": {reference}}, nil)
}

// ListDisputes returns the dispute history of an order.
func (c *Client) ListDisputes(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/dispute/"+url.PathEscape(orderID), nil, nil)
}

// ResolveDispute settles a disputed order with "release" or "refund".
func (c *Client) ResolveDispute(ctx context.Context, orderID, action string) (json.RawMessage, error) {
	body := map[string]string{"order_id": orderID, "action": action}
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/dispute/resolve", nil, body)
}

// RefundEscrow returns a held escrow to the buyer.
func (c *Client) RefundEscrow(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/escrow/refund", nil, map[string]string{"order_id": orderID})
}

// ListDeliveries returns recent webhook deliveries, optionally for one reference.
func (c *Client) ListDeliveries(ctx context.Context, reference string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if reference != "" {
		q.Set("reference", reference)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/webhooks/deliveries", q, nil)
}

// ReconcilePending runs one pending-payment reconciliation pass.
func (c *Client) ReconcilePending(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/reconcile/pending", nil, nil)
}
