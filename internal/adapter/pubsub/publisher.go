package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// DefaultOutputBuffer is the per-subscriber channel buffer of the in-process bus.
const DefaultOutputBuffer = 128

// NewGoChannel builds the in-process bus shared by the mediator publisher and
// subscriber. Messages are not persisted: a topic with no subscriber drops them.
// Publish blocks until every subscriber acked, which keeps the per-topic order
// of replies and interval pushes. Consumers must ack without touching the bus:
// a publish holds the subscriber lock while it waits.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            DefaultOutputBuffer,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: true,
		PreserveContext:                true,
	}, logger)
}
