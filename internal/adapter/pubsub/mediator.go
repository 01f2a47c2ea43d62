package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/webitel/fortunes-client/internal/domain/event"
	"github.com/webitel/fortunes-client/internal/domain/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRequestTimeout bounds every request when no option overrides it.
const DefaultRequestTimeout = 10 * time.Second

const (
	tracerName         = "github.com/webitel/fortunes-client/internal/adapter/pubsub"
	replyHandlerName   = "mediator.replies"
	routerCloseTimeout = 5 * time.Second
)

// ErrMediatorClosed is returned to calls still waiting when the mediator closes.
var ErrMediatorClosed = errors.New("mediator: closed")

// Mediator is the typed publish/subscribe surface between the connection
// manager and the rest of the client.
type Mediator interface {
	// [LIFECYCLE]
	// Start must return before requests or responders are used.
	Start(ctx context.Context) error
	Close() error

	// [BROADCASTS]
	PublishOnline(ctx context.Context) error
	PublishOffline(ctx context.Context) error
	SubscribeStatus(ctx context.Context) (<-chan event.Status, error)

	// [REQUESTERS]
	Search(ctx context.Context, req model.SearchRequest) (model.SearchResult, error)
	Random(ctx context.Context, req model.RandomRequest) (model.RandomMessage, error)
	RandomInterval(ctx context.Context, req model.RandomIntervalRequest, onPush func(model.RandomMessage)) (*IntervalSubscription, error)

	// [RESPONDERS]
	// Each handler stays subscribed until ctx is cancelled.
	HandleSearch(ctx context.Context, h RequestHandler[model.SearchRequest]) error
	HandleRandom(ctx context.Context, h RequestHandler[model.RandomRequest]) error
	HandleRandomInterval(ctx context.Context, h RequestHandler[model.RandomIntervalRequest]) error
	HandleIntervalStop(ctx context.Context, h func(ctx context.Context, key model.MessageKey) error) error
}

// mediator runs every bus consumer on one watermill router. Consumers only
// hand messages over and return, so the blocking publish of the bus never
// waits on another bus operation.
type mediator struct {
	dispatcher  Dispatcher
	outbox      *outbox
	subscriber  message.Subscriber
	router      *message.Router
	logger      *slog.Logger
	tracer      trace.Tracer
	timeout     time.Duration
	middlewares []message.HandlerMiddleware

	replyTopic string
	calls      *callTable

	handlersMu sync.Mutex
	handlers   map[event.Topic]registration
	handlerSeq atomic.Uint64
	closeOnce  sync.Once
}

// registration is the latest router handler of a topic and the context that
// bounds it.
type registration struct {
	ctx     context.Context
	handler *message.Handler
}

// Option defines a functional configuration type for the Mediator.
type Option func(*mediator)

// WithRequestTimeout sets how long a requester waits for the first reply.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *mediator) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMiddleware appends handler middlewares applied to every consumer.
func WithMiddleware(mws ...message.HandlerMiddleware) Option {
	return func(m *mediator) {
		m.middlewares = append(m.middlewares, mws...)
	}
}

// NewMediator builds a mediator on top of a watermill publisher/subscriber pair.
func NewMediator(pub message.Publisher, sub message.Subscriber, logger *slog.Logger, tp trace.TracerProvider, opts ...Option) (Mediator, error) {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: routerCloseTimeout,
	}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("mediator: create router: %w", err)
	}

	d := NewDispatcher(pub)
	m := &mediator{
		dispatcher: d,
		outbox:     newOutbox(d, logger),
		subscriber: sub,
		router:     router,
		logger:     logger,
		tracer:     tp.Tracer(tracerName),
		timeout:    DefaultRequestTimeout,
		replyTopic: "mediator.reply." + uuid.NewString(),
		calls:      newCallTable(),
		handlers:   make(map[event.Topic]registration),
	}
	m.middlewares = []message.HandlerMiddleware{
		TraceIDMiddleware,
		LoggingMiddleware(logger),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Start runs the router with the shared reply consumer and waits until it is
// running.
func (m *mediator) Start(ctx context.Context) error {
	m.router.AddMiddleware(m.middlewares...)
	m.router.AddConsumerHandler(replyHandlerName, m.replyTopic, m.subscriber, m.routeReply)

	errc := make(chan error, 1)
	go func() {
		errc <- m.router.Run(context.Background())
	}()

	select {
	case <-m.router.Running():
		m.logger.Info("MEDIATOR_STARTED", "reply_topic", m.replyTopic)
		return nil
	case err := <-errc:
		return fmt.Errorf("mediator: router stopped: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued replies, then stops every consumer and fails the calls
// still waiting with ErrMediatorClosed.
func (m *mediator) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.outbox.Close()
		m.calls.closeAll()
		err = m.router.Close()
		m.logger.Info("MEDIATOR_CLOSED")
	})
	return err
}

func (m *mediator) PublishOnline(ctx context.Context) error {
	return m.dispatcher.Publish(ctx, event.TopicOnline.String(), event.NewStatus(true), nil)
}

func (m *mediator) PublishOffline(ctx context.Context) error {
	return m.dispatcher.Publish(ctx, event.TopicOffline.String(), event.NewStatus(false), nil)
}

// SubscribeStatus merges online and offline broadcasts into one channel that
// is closed when ctx ends. A reader that falls behind loses the oldest status.
func (m *mediator) SubscribeStatus(ctx context.Context) (<-chan event.Status, error) {
	online, err := m.subscriber.Subscribe(ctx, event.TopicOnline.String())
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", event.TopicOnline, err)
	}
	offline, err := m.subscriber.Subscribe(ctx, event.TopicOffline.String())
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", event.TopicOffline, err)
	}

	out := make(chan event.Status, 16)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	deliver := func(st event.Status) {
		mu.Lock()
		defer mu.Unlock()
		for {
			select {
			case out <- st:
				return
			default:
			}
			select {
			case <-out:
				m.logger.Debug("STATUS_DROPPED")
			default:
			}
		}
	}

	forward := func(msgs <-chan *message.Message) {
		defer wg.Done()
		for msg := range msgs {
			var st event.Status
			if err := json.Unmarshal(msg.Payload, &st); err != nil {
				m.logger.Warn("STATUS_DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			} else {
				deliver(st)
			}
			msg.Ack()
		}
	}

	wg.Add(2)
	go forward(online)
	go forward(offline)
	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (m *mediator) Search(ctx context.Context, req model.SearchRequest) (model.SearchResult, error) {
	ctx, span := m.startSpan(ctx, event.TopicSearch)
	defer span.End()

	msg, err := m.roundTrip(ctx, event.TopicSearch, req)
	if err != nil {
		recordError(span, err)
		return model.SearchResult{}, err
	}

	return model.SearchResult{Data: json.RawMessage(msg.Payload)}, nil
}

func (m *mediator) Random(ctx context.Context, req model.RandomRequest) (model.RandomMessage, error) {
	ctx, span := m.startSpan(ctx, event.TopicRandom)
	defer span.End()

	msg, err := m.roundTrip(ctx, event.TopicRandom, req)
	if err != nil {
		recordError(span, err)
		return model.RandomMessage{}, err
	}

	return model.RandomMessage{Data: json.RawMessage(msg.Payload)}, nil
}

// RandomInterval requests a push stream. The first reply carries the message
// key; every later reply is a push handed to onPush until the stream ends.
func (m *mediator) RandomInterval(ctx context.Context, req model.RandomIntervalRequest, onPush func(model.RandomMessage)) (*IntervalSubscription, error) {
	ctx, span := m.startSpan(ctx, event.TopicRandomInterval)
	defer span.End()

	rctx, cancel := m.withDeadline(ctx)
	defer cancel()

	id, box := m.request(rctx, event.TopicRandomInterval, req)

	first, err := m.await(rctx, box)
	if err != nil {
		m.calls.release(id)
		recordError(span, err)
		return nil, err
	}

	var key string
	if err := json.Unmarshal(first.Payload, &key); err != nil || key == "" {
		m.calls.release(id)
		recordError(span, model.ErrInvalidMessageKey)
		return nil, model.ErrInvalidMessageKey
	}
	span.SetAttributes(attribute.String("fortunes.message_key", key))

	sub := newIntervalSubscription(model.MessageKey(key), func() { m.calls.release(id) })
	traceID := TraceID(ctx)
	sub.stop = func(ctx context.Context) error {
		return m.dispatcher.Publish(WithTraceID(ctx, traceID), event.TopicIntervalStop.String(), sub.key, nil)
	}

	go m.pump(box, sub, onPush)

	return sub, nil
}

// pump delivers interval pushes until the stream ends or is torn down.
func (m *mediator) pump(box *inbox, sub *IntervalSubscription, onPush func(model.RandomMessage)) {
	for {
		msg, ok := box.next(sub.done)
		if !ok {
			// Stop already finished the subscription; otherwise the mediator closed.
			sub.finish(ErrMediatorClosed)
			return
		}

		if isEnd(msg) {
			err := replyError(msg)
			m.logger.Debug("INTERVAL_STREAM_ENDED", "key", sub.key, "err", err)
			sub.finish(err)
			return
		}

		if onPush != nil {
			onPush(model.RandomMessage{Data: json.RawMessage(msg.Payload)})
		}
	}
}

func (m *mediator) HandleSearch(ctx context.Context, h RequestHandler[model.SearchRequest]) error {
	return m.handle(ctx, event.TopicSearch, Bind(m.outbox, m.logger, h))
}

func (m *mediator) HandleRandom(ctx context.Context, h RequestHandler[model.RandomRequest]) error {
	return m.handle(ctx, event.TopicRandom, Bind(m.outbox, m.logger, h))
}

func (m *mediator) HandleRandomInterval(ctx context.Context, h RequestHandler[model.RandomIntervalRequest]) error {
	return m.handle(ctx, event.TopicRandomInterval, Bind(m.outbox, m.logger, h))
}

func (m *mediator) HandleIntervalStop(ctx context.Context, h func(ctx context.Context, key model.MessageKey) error) error {
	return m.handle(ctx, event.TopicIntervalStop, Bind(m.outbox, m.logger,
		func(ctx context.Context, key model.MessageKey, _ Replier) error {
			return h(ctx, key)
		},
	))
}

// [ROUTER_HANDLERS]
// handle adds h to the running router. The handler unsubscribes and leaves the
// router when ctx ends, so every connect generation registers its own. A
// handler whose context already ended is waited for, so a request never
// reaches both generations.
func (m *mediator) handle(ctx context.Context, topic event.Topic, h message.NoPublishHandlerFunc) error {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()

	select {
	case <-m.router.Running():
	default:
		return fmt.Errorf("mediator: handle %s: router not running", topic)
	}
	if m.router.IsClosed() {
		return fmt.Errorf("handle %s: %w", topic, ErrMediatorClosed)
	}

	if prev, ok := m.handlers[topic]; ok && prev.ctx.Err() != nil {
		select {
		case <-prev.handler.Stopped():
		case <-time.After(routerCloseTimeout):
			m.logger.Warn("BUS_HANDLER_STOP_TIMEOUT", "topic", topic)
		}
	}

	name := fmt.Sprintf("%s#%d", topic, m.handlerSeq.Add(1))
	handler := m.router.AddConsumerHandler(name, topic.String(), m.subscriber, h)
	if err := m.router.RunHandlers(ctx); err != nil {
		return fmt.Errorf("mediator: run handler %s: %w", name, err)
	}
	m.handlers[topic] = registration{ctx: ctx, handler: handler}

	m.logger.Debug("BUS_HANDLER_STARTED", "handler", name, "topic", topic)
	return nil
}

// routeReply hands a reply to the call waiting for its correlation id.
func (m *mediator) routeReply(msg *message.Message) error {
	id := msg.Metadata.Get(MetaCorrelationID)
	if !m.calls.deliver(id, msg) {
		m.logger.Debug("REPLY_UNCLAIMED", "correlation_id", id, "msg_id", msg.UUID)
	}
	return nil
}

func (m *mediator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(ctx, m.timeout, model.ErrTimeout)
}

// roundTrip publishes one request and waits for its single reply.
func (m *mediator) roundTrip(ctx context.Context, topic event.Topic, v any) (*message.Message, error) {
	ctx, cancel := m.withDeadline(ctx)
	defer cancel()

	id, box := m.request(ctx, topic, v)
	defer m.calls.release(id)

	return m.await(ctx, box)
}

// request registers a call and publishes v with reply_to and correlation_id
// set. The publish runs in the background because the bus holds it until the
// responder acked, while the caller is already bounded by its deadline.
func (m *mediator) request(ctx context.Context, topic event.Topic, v any) (string, *inbox) {
	id, box := m.calls.open()
	md := message.Metadata{
		MetaReplyTo:       m.replyTopic,
		MetaCorrelationID: id,
	}

	go func() {
		if err := m.dispatcher.Publish(ctx, topic.String(), v, md); err != nil {
			m.logger.Warn("REQUEST_PUBLISH_FAILED", "topic", topic, "correlation_id", id, "err", err)
		}
	}()

	return id, box
}

// await returns the first reply, translating faults into errors.
func (m *mediator) await(ctx context.Context, box *inbox) (*message.Message, error) {
	msg, ok := box.next(ctx.Done())
	if !ok {
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}
		return nil, ErrMediatorClosed
	}
	if err := replyError(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *mediator) startSpan(ctx context.Context, topic event.Topic) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "mediator."+topic.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("messaging.destination.name", topic.String())),
	)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
