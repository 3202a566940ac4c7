package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	buf := &bytes.Buffer{}
	prev := Logger()
	Init(Config{Level: "debug", Output: buf, Service: "billing-test"})
	t.Cleanup(func() { SetGlobalLogger(prev) })
	return buf
}

func decodeLast(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"", zerolog.InfoLevel},
		{"неизвестно", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestFromContext_AddsIDs(t *testing.T) {
	buf := captureLogs(t)

	ctx := NewContextWithIDs(context.Background(), "trace-1", "corr-1")
	ctx = WithPaymentID(ctx, "pay-1")

	l := FromContext(ctx)
	l.Info().Msg("проверка")

	entry := decodeLast(t, buf)
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.Equal(t, "pay-1", entry["payment_id"])
	assert.Equal(t, "billing-test", entry["service"])
}

func TestFromContext_UsesContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	custom := zerolog.New(buf).With().Str("component", "custom").Logger()

	ctx := WithLogger(context.Background(), custom)
	Ctx(ctx).Info().Msg("проверка")

	entry := decodeLast(t, buf)
	assert.Equal(t, "custom", entry["component"])
	assert.NotContains(t, entry, "trace_id")
}

func TestSecurity_MarksEvent(t *testing.T) {
	buf := captureLogs(t)

	Security().Msg("подпись не совпала")

	entry := decodeLast(t, buf)
	assert.Equal(t, true, entry["security_event"])
	assert.Equal(t, "error", entry["level"])
}

func TestNewContextWithIDs_SkipsEmpty(t *testing.T) {
	ctx := NewContextWithIDs(context.Background(), "", "")
	assert.Empty(t, TraceIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(ctx))
	assert.Empty(t, PaymentIDFromContext(ctx))
}

func TestCtx_ChainsEvents(t *testing.T) {
	buf := captureLogs(t)

	ctx := WithPaymentID(context.Background(), "pay-2")
	Ctx(ctx).Warn().Str("reason", "stale").Msg("проверка")

	entry := decodeLast(t, buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "pay-2", entry["payment_id"])
	assert.Equal(t, "stale", entry["reason"])
}
