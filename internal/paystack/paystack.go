// Package paystack is the payment gateway adapter. It speaks the Paystack
// REST API for transaction initialize, verify and refund, and verifies
// webhook signatures.
//
// The adapter never retries and never touches local stores. Every failure
// comes back as a *GatewayError carrying the provider's own message so the
// caller decides whether to retry the whole operation.
package paystack

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wiredan/wiredan/internal/apperr"
)

// MetadataTypeEscrow marks transactions created by the escrow engine.
const MetadataTypeEscrow = "escrow"

// Metadata is attached to every escrow transaction and echoed back by the
// provider in verify responses and webhooks.
type Metadata struct {
	OrderID  string `json:"order_id"`
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`
	Type     string `json:"type"`
	BuyerFee int64  `json:"buyer_fee"`
}

// UnmarshalJSON accepts the object form, an object encoded as a JSON
// string, an empty string, and buyer_fee as a number or numeric string.
// Paystack returns all of these depending on how the transaction was made.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*m = Metadata{}
			return nil
		}
		data = []byte(s)
	}
	if bytes.Equal(data, []byte("null")) {
		*m = Metadata{}
		return nil
	}

	var raw struct {
		OrderID  string          `json:"order_id"`
		BuyerID  string          `json:"buyer_id"`
		SellerID string          `json:"seller_id"`
		Type     string          `json:"type"`
		BuyerFee json.RawMessage `json:"buyer_fee"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fee, err := parseMinor(raw.BuyerFee)
	if err != nil {
		return fmt.Errorf("metadata buyer_fee: %w", err)
	}
	*m = Metadata{
		OrderID:  raw.OrderID,
		BuyerID:  raw.BuyerID,
		SellerID: raw.SellerID,
		Type:     raw.Type,
		BuyerFee: fee,
	}
	return nil
}

func parseMinor(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// IsEscrow reports whether the metadata belongs to an escrow transaction.
func (m Metadata) IsEscrow() bool {
	return m.Type == MetadataTypeEscrow && m.OrderID != ""
}

// PaymentStatus is the provider's transaction status.
type PaymentStatus string

const (
	StatusSuccess    PaymentStatus = "success"
	StatusFailed     PaymentStatus = "failed"
	StatusAbandoned  PaymentStatus = "abandoned"
	StatusReversed   PaymentStatus = "reversed"
	StatusOngoing    PaymentStatus = "ongoing"
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusQueued     PaymentStatus = "queued"
)

// Succeeded reports whether funds were captured.
func (s PaymentStatus) Succeeded() bool { return s == StatusSuccess }

// Failed reports whether the transaction definitively did not capture funds.
func (s PaymentStatus) Failed() bool {
	return s == StatusFailed || s == StatusAbandoned || s == StatusReversed
}

// InitResult is the outcome of a successful initialize call.
type InitResult struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
}

// PaymentResult is the normalized outcome of a verify call.
type PaymentResult struct {
	Status      PaymentStatus `json:"status"`
	AmountMinor int64         `json:"amount"`
	Currency    string        `json:"currency"`
	Reference   string        `json:"reference"`
	Metadata    Metadata      `json:"metadata"`
	PaidAt      *time.Time    `json:"paid_at,omitempty"`
}

// RefundResult is the outcome of a refund call.
type RefundResult struct {
	Accepted bool   `json:"accepted"`
	Status   string `json:"status"`
}

// GatewayError is any failed provider call.
type GatewayError struct {
	Op         string // "initialize", "verify", "refund"
	StatusCode int    // HTTP status, 0 when no response
	Detail     string // provider's raw message
	timeout    bool
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("paystack %s (HTTP %d): %s", e.Op, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("paystack %s: %s", e.Op, e.Detail)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// AppKind classifies gateway failures as 502s.
func (e *GatewayError) AppKind() apperr.Kind { return apperr.Gateway }

// Timeout reports whether the call ran out of time. The outcome at the
// provider is unknown.
func (e *GatewayError) Timeout() bool { return e.timeout }

// Transient reports whether the failure is worth retrying later: no
// response, a timeout, a 429, or a 5xx.
func (e *GatewayError) Transient() bool {
	return e.StatusCode == 0 || e.timeout || e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTransient reports whether err is a transient gateway failure.
func IsTransient(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Transient()
}
