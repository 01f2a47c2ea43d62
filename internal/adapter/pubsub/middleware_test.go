package pubsub

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestLoggingMiddleware_ReplyMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	msg := message.NewMessage(watermill.NewUUID(), nil)
	msg.Metadata.Set(MetaTraceID, "trace-1")
	msg.Metadata.Set(MetaCorrelationID, "call-7")
	msg.Metadata.Set(MetaError, FaultEvicted)

	h := LoggingMiddleware(logger)(func(*message.Message) ([]*message.Message, error) {
		return nil, nil
	})
	_, err := h(msg)
	require.NoError(t, err)

	line := decodeLogLine(t, &buf)
	assert.Equal(t, "BUS_MESSAGE_HANDLED", line["msg"])
	assert.Equal(t, "DEBUG", line["level"])
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "call-7", line["correlation_id"])
	assert.Equal(t, FaultEvicted, line["fault"])
	assert.Contains(t, line, "handler")
	assert.Contains(t, line, "topic")
}

func TestLoggingMiddleware_Failure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	msg := message.NewMessage(watermill.NewUUID(), nil)

	h := LoggingMiddleware(logger)(func(*message.Message) ([]*message.Message, error) {
		return nil, errors.New("relay down")
	})
	_, err := h(msg)
	require.Error(t, err)

	line := decodeLogLine(t, &buf)
	assert.Equal(t, "BUS_MESSAGE_FAILED", line["msg"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "relay down", line["err"])
	assert.NotContains(t, line, "correlation_id")
	assert.NotContains(t, line, "fault")
}
