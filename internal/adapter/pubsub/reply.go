package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/fortunes-client/internal/domain/model"
)

// Message metadata keys used by the request/reply protocol.
const (
	MetaReplyTo       = "reply_to"
	MetaCorrelationID = "correlation_id"
	MetaError         = "error"
	MetaEnd           = "end"
	MetaTraceID       = "trace_id"
)

// Fault codes carried in the "error" metadata of a reply.
const (
	FaultOffline      = "offline"
	FaultTimeout      = "timeout"
	FaultNotConnected = "not_connected"
	FaultEvicted      = "evicted"
	FaultRemote       = "remote"
)

// Replier answers one bus request. Reply may be called many times for
// streaming requests; Fail and End terminate the stream.
type Replier interface {
	Reply(ctx context.Context, v any) error
	Fail(ctx context.Context, err error) error
	End(ctx context.Context) error
}

type replier struct {
	dispatcher    Dispatcher
	topic         string
	correlationID string
	traceID       string
}

// newReplier answers on the reply_to topic of msg, tagging every reply with
// the request's correlation id. Messages without reply_to get a replier that
// drops everything.
func newReplier(d Dispatcher, msg *message.Message) Replier {
	return &replier{
		dispatcher:    d,
		topic:         msg.Metadata.Get(MetaReplyTo),
		correlationID: msg.Metadata.Get(MetaCorrelationID),
		traceID:       msg.Metadata.Get(MetaTraceID),
	}
}

func (r *replier) Reply(ctx context.Context, v any) error {
	return r.send(ctx, v, nil)
}

func (r *replier) Fail(ctx context.Context, err error) error {
	if err == nil {
		return r.End(ctx)
	}
	return r.send(ctx, err.Error(), message.Metadata{
		MetaError: faultCode(err),
		MetaEnd:   "true",
	})
}

func (r *replier) End(ctx context.Context) error {
	return r.send(ctx, nil, message.Metadata{MetaEnd: "true"})
}

func (r *replier) send(ctx context.Context, v any, md message.Metadata) error {
	if r.topic == "" {
		return nil
	}
	if md == nil {
		md = message.Metadata{}
	}
	md[MetaCorrelationID] = r.correlationID
	if r.traceID != "" {
		md[MetaTraceID] = r.traceID
	}
	return r.dispatcher.Publish(ctx, r.topic, v, md)
}

func faultCode(err error) string {
	switch {
	case errors.Is(err, model.ErrOffline):
		return FaultOffline
	case errors.Is(err, model.ErrTimeout):
		return FaultTimeout
	case errors.Is(err, model.ErrNotConnected):
		return FaultNotConnected
	case errors.Is(err, model.ErrIntervalEvicted):
		return FaultEvicted
	default:
		return FaultRemote
	}
}

// replyError turns a reply carrying a fault back into an error.
func replyError(msg *message.Message) error {
	code := msg.Metadata.Get(MetaError)
	if code == "" {
		return nil
	}

	switch code {
	case FaultOffline:
		return model.ErrOffline
	case FaultTimeout:
		return model.ErrTimeout
	case FaultNotConnected:
		return model.ErrNotConnected
	case FaultEvicted:
		return model.ErrIntervalEvicted
	}

	var text string
	if err := json.Unmarshal(msg.Payload, &text); err != nil || text == "" {
		text = code
	}
	return fmt.Errorf("%w: %s", model.ErrRemote, text)
}

func isEnd(msg *message.Message) bool {
	return msg.Metadata.Get(MetaEnd) == "true"
}
