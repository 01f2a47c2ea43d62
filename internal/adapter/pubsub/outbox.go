package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrOutboxClosed is returned for replies sent after the mediator closed.
var ErrOutboxClosed = errors.New("mediator: outbox closed")

type envelope struct {
	ctx   context.Context
	topic string
	v     any
	md    message.Metadata
}

// [REPLY_OUTBOX]
// outbox is a Dispatcher that queues messages and publishes them from a single
// goroutine in FIFO order. Responders reply through it, so a handler never
// publishes while the bus still waits for it to ack.
type outbox struct {
	next   Dispatcher
	logger *slog.Logger

	mu     sync.Mutex
	queue  []envelope
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newOutbox(next Dispatcher, logger *slog.Logger) *outbox {
	o := &outbox{
		next:   next,
		logger: logger,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

// Publish queues the message and returns at once.
func (o *outbox) Publish(ctx context.Context, topic string, v any, md message.Metadata) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	o.queue = append(o.queue, envelope{ctx: ctx, topic: topic, v: v, md: md})
	o.mu.Unlock()

	o.wake()
	return nil
}

func (o *outbox) Publisher() message.Publisher {
	return o.next.Publisher()
}

// Close publishes what is already queued and stops the worker.
func (o *outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.wake()
	<-o.done
}

func (o *outbox) wake() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	defer close(o.done)

	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		closed := o.closed
		o.mu.Unlock()

		for _, env := range batch {
			if err := o.next.Publish(env.ctx, env.topic, env.v, env.md); err != nil {
				o.logger.Warn("REPLY_PUBLISH_FAILED", "topic", env.topic, "err", err)
			}
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-o.signal
	}
}
