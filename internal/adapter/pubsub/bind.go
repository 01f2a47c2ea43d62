package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/fortunes-client/internal/domain/model"
)

// RequestHandler defines the functional signature for responder logic.
// A returned error is sent to the requester as a fault.
type RequestHandler[T any] func(ctx context.Context, req T, reply Replier) error

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to responder logic, handling Panic Recovery,
// Decoding and fault replies. Every message is acknowledged: the in-process
// bus would redeliver a nacked request forever.
func Bind[T any](d Dispatcher, logger *slog.Logger, fn RequestHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		reply := newReplier(d, msg)

		// [PANIC_RECOVERY]
		// Safely handle runtime panics to keep the subscriber alive.
		defer func() {
			if r := recover(); r != nil {
				logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
				_ = reply.Fail(msg.Context(), fmt.Errorf("%w: handler panic", model.ErrRemote))
			}
		}()

		// [DECODING]
		req := new(T)
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, req); err != nil {
				logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
				_ = reply.Fail(msg.Context(), fmt.Errorf("%w: decode request: %v", model.ErrRemote, err))
				return nil // ACK: Poison Pill protection.
			}
		}

		// [EXECUTION]
		// Responder logic runs with the enriched context (TraceID).
		if err := fn(msg.Context(), *req, reply); err != nil {
			if ferr := reply.Fail(msg.Context(), err); ferr != nil {
				return fmt.Errorf("REPLY_FAILED: %w", ferr)
			}
		}

		return nil
	}
}
