// Package logging builds the service's slog loggers. Request-scoped values
// (request id, acting user, order) ride on the context and are added to
// every record logged through a *Context method or L.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorKey
	orderKey
	loggerKey
)

// redacted lists attribute keys whose values never reach the output.
var redacted = map[string]bool{
	"authorization":        true,
	"secret_key":           true,
	"jwt_secret":           true,
	"password":             true,
	"x-paystack-signature": true,
	"signature":            true,
}

// New creates a logger writing to stdout.
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a logger writing to w. format is "json" or text.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl == slog.LevelDebug,
		ReplaceAttr: redact,
	}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(contextHandler{h})
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if redacted[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		if strings.EqualFold(level, "warning") {
			return slog.LevelWarn
		}
		return slog.LevelInfo
	}
	return lvl
}

// contextHandler copies request-scoped values from the context onto each
// record.
type contextHandler struct{ slog.Handler }

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if actor, ok := ctx.Value(actorKey).(string); ok && actor != "" {
		r.AddAttrs(slog.String("actor", actor))
	}
	if order, ok := ctx.Value(orderKey).(string); ok && order != "" {
		r.AddAttrs(slog.String("order_id", order))
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// WithRequestID tags ctx with the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request id on ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithActor tags ctx with the authenticated user.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey, userID)
}

// WithOrder tags ctx with the order being worked on.
func WithOrder(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderKey, orderID)
}

// WithLogger stores logger on ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger on ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ctxLogger binds a context so plain Info/Warn calls still see it.
type ctxLogger struct {
	slog.Handler
	ctx context.Context
}

func (h ctxLogger) Handle(_ context.Context, r slog.Record) error {
	return h.Handler.Handle(h.ctx, r)
}

func (h ctxLogger) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ctxLogger{h.Handler.WithAttrs(attrs), h.ctx}
}

func (h ctxLogger) WithGroup(name string) slog.Handler {
	return ctxLogger{h.Handler.WithGroup(name), h.ctx}
}

// L returns the context's logger bound to ctx, so request id, actor and
// order appear on every line.
func L(ctx context.Context) *slog.Logger {
	h := FromContext(ctx).Handler()
	if _, ok := h.(contextHandler); !ok {
		h = contextHandler{h}
	}
	return slog.New(ctxLogger{h, ctx})
}
