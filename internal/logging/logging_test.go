package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestNew_ErrorLevel(t *testing.T) {
	assert.False(t, New("error", "text").Enabled(context.Background(), slog.LevelInfo))
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "output %q", buf.String())
	return line
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "json").Info("escrow released", "amount_minor", 9800)
	line := decode(t, &buf)
	assert.Equal(t, "escrow released", line["msg"])
	assert.EqualValues(t, 9800, line["amount_minor"])
}

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "json").Info("webhook", "X-Paystack-Signature", "abc123", "reference", "ref_1")
	line := decode(t, &buf)
	assert.Equal(t, "[redacted]", line["X-Paystack-Signature"])
	assert.Equal(t, "ref_1", line["reference"])
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Equal(t, "req-123", RequestID(WithRequestID(ctx, "req-123")))
}

func TestFromContext_Default(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestL_AnnotatesFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithActor(ctx, "usr_9")
	ctx = WithOrder(ctx, "ord_1")

	L(ctx).With("step", "release").Info("hello")

	line := decode(t, &buf)
	assert.Equal(t, "req-456", line["request_id"])
	assert.Equal(t, "usr_9", line["actor"])
	assert.Equal(t, "ord_1", line["order_id"])
	assert.Equal(t, "release", line["step"])
}

func TestInfoContext_PicksUpRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.InfoContext(WithRequestID(context.Background(), "req-9"), "charge verified")
	assert.Equal(t, "req-9", decode(t, &buf)["request_id"])
}
