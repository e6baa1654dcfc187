package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/wiredan/wiredan/internal/idgen"
	"github.com/wiredan/wiredan/internal/logging"
	"github.com/wiredan/wiredan/internal/paystack"
	"github.com/wiredan/wiredan/internal/traces"
)

// Ingestor verifies, applies and records provider deliveries.
type Ingestor struct {
	secret string
	engine Engine
	store  Store
	logger *slog.Logger
}

// NewIngestor creates an ingestor that verifies signatures with secret.
func NewIngestor(secret string, engine Engine, store Store) *Ingestor {
	return &Ingestor{
		secret: secret,
		engine: engine,
		store:  store,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used outside request scope.
func (i *Ingestor) WithLogger(l *slog.Logger) *Ingestor {
	i.logger = l
	return i
}

func (i *Ingestor) log(ctx context.Context) *slog.Logger {
	if logging.RequestID(ctx) != "" {
		return logging.L(ctx)
	}
	return i.logger
}

// Result is the outcome of one delivery.
type Result struct {
	Outcome Outcome
	Detail  string
	Err     error // set for OutcomeError
}

// Ingest handles a raw delivery body and its signature header.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, signature string) Result {
	start := time.Now()
	d := &Delivery{
		ID:         idgen.WithPrefix("whd_"),
		Event:      "unverified",
		ReceivedAt: start,
	}

	res := i.ingest(ctx, body, signature, d)
	d.Outcome = res.Outcome
	d.Detail = res.Detail

	if err := i.store.Record(ctx, d); err != nil {
		i.log(ctx).Error("failed to record webhook delivery",
			"delivery_id", d.ID, "reference", d.Reference, "error", err)
	}
	deliveries.WithLabelValues(d.Event, string(res.Outcome)).Inc()
	deliveryDuration.Observe(time.Since(start).Seconds())
	return res
}

func (i *Ingestor) ingest(ctx context.Context, body []byte, signature string, d *Delivery) (res Result) {
	if !paystack.VerifySignature(i.secret, body, signature) {
		i.log(ctx).Warn("webhook signature rejected", "body_bytes", len(body))
		return Result{Outcome: OutcomeRejected, Detail: detailBadSignature}
	}
	d.SignatureOK = true

	p, err := ParsePayload(body)
	if err != nil {
		d.Event = "malformed"
		return Result{Outcome: OutcomeRejected, Detail: err.Error()}
	}
	d.Event = p.Event
	if d.Event == "" {
		d.Event = "charge." + string(p.Data.Status)
	}
	d.Reference = p.Data.Reference
	d.OrderID = p.Data.Metadata.OrderID

	ctx, span := traces.StartSpan(ctx, "webhook.Ingest",
		traces.Reference(d.Reference), traces.OrderID(d.OrderID))
	defer func() {
		span.SetAttributes(traces.Outcome(string(res.Outcome)))
		traces.End(span, res.Err)
	}()

	if p.Data.Metadata.Type != paystack.MetadataTypeEscrow {
		return Result{Outcome: OutcomeIgnored, Detail: "not an escrow charge"}
	}
	if !p.succeeded() && !p.failed() {
		return Result{Outcome: OutcomeIgnored, Detail: "unhandled event " + d.Event}
	}

	if d.OrderID == "" {
		e, err := i.engine.GetByReference(ctx, d.Reference)
		if err != nil {
			return i.result(ctx, d, err)
		}
		d.OrderID = e.OrderID
	}

	if p.succeeded() {
		_, applied, err := i.engine.ConfirmHeld(ctx, d.OrderID, d.Reference, p.Data.Amount)
		if err == nil && !applied {
			return Result{Outcome: OutcomeIgnored, Detail: "already processed"}
		}
		return i.result(ctx, d, err)
	}

	reason := p.Data.GatewayResponse
	if reason == "" {
		reason = string(p.Data.Status)
	}
	return i.result(ctx, d, i.engine.FailPending(ctx, d.OrderID, d.Reference, reason))
}

func (i *Ingestor) result(ctx context.Context, d *Delivery, err error) Result {
	outcome := classify(err)
	switch outcome {
	case OutcomeApplied:
		i.log(ctx).Info("webhook applied", "event", d.Event, "order_id", d.OrderID, "reference", d.Reference)
		return Result{Outcome: outcome}
	case OutcomeError:
		i.log(ctx).Error("webhook processing failed",
			"event", d.Event, "order_id", d.OrderID, "reference", d.Reference, "error", err)
		return Result{Outcome: outcome, Detail: err.Error(), Err: err}
	default:
		i.log(ctx).Info("webhook ignored",
			"event", d.Event, "order_id", d.OrderID, "reference", d.Reference, "reason", err)
		return Result{Outcome: outcome, Detail: err.Error()}
	}
}
