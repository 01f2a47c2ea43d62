package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Dispatcher defines the low-level contract for outgoing bus messages.
// This keeps the mediator agnostic of the publisher implementation.
type Dispatcher interface {
	Publish(ctx context.Context, topic string, v any, md message.Metadata) error
	Publisher() message.Publisher
}

// dispatcher is the concrete implementation (private).
type dispatcher struct {
	publisher message.Publisher
}

// NewDispatcher returns the interface instead of the pointer to the struct.
func NewDispatcher(pub message.Publisher) Dispatcher {
	return &dispatcher{
		publisher: pub,
	}
}

// Publish marshals v to JSON and publishes it on topic. The trace_id of ctx
// is copied into the metadata unless md already carries one.
func (d *dispatcher) Publish(ctx context.Context, topic string, v any, md message.Metadata) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	for k, val := range md {
		msg.Metadata.Set(k, val)
	}
	if msg.Metadata.Get(MetaTraceID) == "" {
		if traceID := TraceID(ctx); traceID != "" {
			msg.Metadata.Set(MetaTraceID, traceID)
		}
	}
	msg.SetContext(ctx)

	if err := d.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("dispatcher: failed to publish to topic %s: %w", topic, err)
	}

	return nil
}

func (d *dispatcher) Publisher() message.Publisher {
	return d.publisher
}
