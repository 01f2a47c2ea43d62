package pubsub

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/trace"
)

type traceIDKey struct{}

// WithTraceID stores a trace id in ctx for downstream publishes.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID returns the trace id carried by ctx: an explicit one first, then
// the active OpenTelemetry span.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey{}).(string); ok && id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// [TRACE_ID_MIDDLEWARE]
// Ensures TraceID persistence through the call chain.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get(MetaTraceID)
		if traceID == "" {
			traceID = watermill.NewUUID()
			msg.Metadata.Set(MetaTraceID, traceID)
		}

		msg.SetContext(WithTraceID(msg.Context(), traceID))

		return h(msg)
	}
}

// [LOGGING_MIDDLEWARE]
// One line per handled message: which handler ran it, whether the sender
// expects a reply, how long it took.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			attrs := []any{
				"handler", message.HandlerNameFromCtx(msg.Context()),
				"topic", message.SubscribeTopicFromCtx(msg.Context()),
				"trace_id", msg.Metadata.Get(MetaTraceID),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if id := msg.Metadata.Get(MetaCorrelationID); id != "" {
				attrs = append(attrs, "correlation_id", id)
			}
			if code := msg.Metadata.Get(MetaError); code != "" {
				attrs = append(attrs, "fault", code)
			}

			if err != nil {
				logger.Warn("BUS_MESSAGE_FAILED", append(attrs, "err", err)...)
				return msgs, err
			}
			logger.Debug("BUS_MESSAGE_HANDLED", attrs...)
			return msgs, nil
		}
	}
}

// [TIMEOUT_MIDDLEWARE]
// Bounds the handler context; relays that outlive it use their own context.
func NewTimeoutMiddleware(d time.Duration) message.HandlerMiddleware {
	return middleware.Timeout(d)
}
