// Package traces wires OpenTelemetry into the escrow engine, the webhook
// ingestor and the payment gateway adapter.
package traces

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/wiredan/wiredan/internal/apperr"
)

const (
	tracerName  = "github.com/wiredan/wiredan"
	serviceName = "wiredan-escrow"
)

// Config selects the exporter. An empty Endpoint leaves the global no-op
// provider in place.
type Config struct {
	Endpoint    string
	Version     string
	Environment string
	SampleRatio float64 // <= 0 or >= 1 samples everything
}

// Init installs the tracer provider and W3C propagators. The returned
// function flushes pending spans.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts an internal span on the package tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End classifies err onto the span and ends it. Only storage and gateway
// failures mark the span as failed; rejected requests are tagged but keep
// an unset status.
//
//	defer func() { traces.End(span, err) }()
func End(span trace.Span, err error) {
	if err != nil {
		kind := apperr.KindOf(err)
		span.SetAttributes(attribute.String("error.kind", kind.String()))
		switch kind {
		case apperr.Storage, apperr.Gateway:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// Middleware opens a server span per request, continuing any trace the
// caller propagated in the traceparent header.
func Middleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	prop := otel.GetTextMapPropagator
	return func(c *gin.Context) {
		ctx := prop().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(c.Request.Method),
				semconv.HTTPRoute(route),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}

func OrderID(id string) attribute.KeyValue {
	return attribute.String("order.id", id)
}

func Reference(ref string) attribute.KeyValue {
	return attribute.String("payment.reference", ref)
}

func AmountMinor(amount int64) attribute.KeyValue {
	return attribute.Int64("payment.amount_minor", amount)
}

func Actor(id string) attribute.KeyValue {
	return attribute.String("actor.id", id)
}

func GatewayOp(op string) attribute.KeyValue {
	return attribute.String("gateway.op", op)
}

// Outcome tags how a verification or webhook delivery was resolved.
func Outcome(o string) attribute.KeyValue {
	return attribute.String("escrow.outcome", o)
}
