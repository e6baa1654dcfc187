// Package webhook ingests signed payment notifications from the provider
// and applies them to escrows.
//
// Deliveries are verified against the HMAC signature before the body is
// parsed. Every delivery, applied or not, is recorded in an inbox so
// operators can see what the provider sent and what the engine did.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/wiredan/wiredan/internal/apperr"
	"github.com/wiredan/wiredan/internal/escrow"
	"github.com/wiredan/wiredan/internal/paystack"
)

// Provider event names the ingestor acts on.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// MaxBodySize caps a delivery body.
const MaxBodySize = 64 << 10

// Outcome is what the ingestor did with a delivery.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
)

// ChargeData is the data object of a charge event.
type ChargeData struct {
	Status          paystack.PaymentStatus `json:"status"`
	Amount          int64                  `json:"amount"`
	Currency        string                 `json:"currency"`
	Reference       string                 `json:"reference"`
	GatewayResponse string                 `json:"gateway_response"`
	Metadata        paystack.Metadata      `json:"metadata"`
}

// Payload is a decoded delivery.
type Payload struct {
	Event string     `json:"event"`
	Data  ChargeData `json:"data"`
}

const detailBadSignature = "invalid signature"

var errMalformed = apperr.New(apperr.Validation, "malformed_payload", "webhook payload is not a charge event")

// ParsePayload decodes a delivery body. Bodies without a data envelope
// are read as the charge object itself.
func ParsePayload(body []byte) (*Payload, error) {
	var raw struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errMalformed
	}
	p := &Payload{Event: raw.Event}
	data := []byte(raw.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = body
	}
	if err := json.Unmarshal(data, &p.Data); err != nil {
		return nil, errMalformed
	}
	if p.Data.Reference == "" {
		return nil, errMalformed
	}
	return p, nil
}

func (p *Payload) succeeded() bool {
	return p.Event == EventChargeSuccess || (p.Event == "" && p.Data.Status.Succeeded())
}

func (p *Payload) failed() bool {
	return p.Event == EventChargeFailed || (p.Event == "" && p.Data.Status.Failed())
}

// Delivery is one inbox record.
type Delivery struct {
	ID          string    `json:"id"`
	Event       string    `json:"event"`
	Reference   string    `json:"reference,omitempty"`
	OrderID     string    `json:"orderId,omitempty"`
	SignatureOK bool      `json:"signatureOk"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Store persists deliveries.
type Store interface {
	Record(ctx context.Context, d *Delivery) error
	ListByReference(ctx context.Context, reference string, limit int) ([]*Delivery, error)
	Recent(ctx context.Context, limit int) ([]*Delivery, error)
}

// Engine is the part of the escrow service a delivery can drive.
type Engine interface {
	ConfirmHeld(ctx context.Context, orderID, reference string, amountMinor int64) (*escrow.Escrow, bool, error)
	FailPending(ctx context.Context, orderID, reference, reason string) error
	GetByReference(ctx context.Context, reference string) (*escrow.Escrow, error)
}

// classify maps an engine error to a delivery outcome. Business outcomes
// are acknowledged so the provider stops retrying; storage failures are
// not.
func classify(err error) Outcome {
	if err == nil {
		return OutcomeApplied
	}
	if apperr.KindOf(err) == apperr.Storage {
		return OutcomeError
	}
	return OutcomeIgnored
}
