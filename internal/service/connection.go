package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/webitel/fortunes-client/infra/transport/socketio"
	"github.com/webitel/fortunes-client/internal/adapter/pubsub"
	"github.com/webitel/fortunes-client/internal/domain/event"
	"github.com/webitel/fortunes-client/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// SessionExpiredAlert is shown when the server reports an expired session.
const SessionExpiredAlert = "Session has expired. Please login again."

// [CONNECTION_MANAGER] PRIMARY INTERFACE FOR THE APPLICATION SHELL
type Manager interface {
	// Initialize registers transport handlers and opens the connection.
	// A second call fails with model.ErrAlreadyInitialized.
	Initialize(ctx context.Context) error
	// IsOnline reports the connected-state flag.
	IsOnline() bool
	// Close stops relays, ends interval subscriptions and closes the transport.
	Close(ctx context.Context) error
}

// Navigator surfaces session expiry to the user.
type Navigator interface {
	Alert(message string)
	Navigate(location string)
}

// SocketManager owns the single socket connection and bridges it to the mediator.
type SocketManager struct {
	client    socketio.Client
	mediator  pubsub.Mediator
	navigator Navigator
	logger    *slog.Logger
	intervals *intervalRegistry

	config struct {
		defaultInterval  int
		maxSubscriptions int
	}

	initialized atomic.Bool
	online      atomic.Bool
	closeOnce   sync.Once

	// Lifetime of the manager, independent of the Initialize caller.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	// [RELAY_GENERATION] bumped on every connect and disconnect
	mu          sync.Mutex
	generation  uint64
	relayCancel context.CancelFunc
}

// NewSocketManager returns a manager bound to one transport client.
func NewSocketManager(client socketio.Client, mediator pubsub.Mediator, navigator Navigator, logger *slog.Logger, opts ...Option) (*SocketManager, error) {
	m := &SocketManager{
		client:    client,
		mediator:  mediator,
		navigator: navigator,
		logger:    logger,
	}
	m.config.defaultInterval = model.DefaultInterval
	m.config.maxSubscriptions = DefaultMaxSubscriptions

	for _, opt := range opts {
		opt(m)
	}

	intervals, err := newIntervalRegistry(client, logger, m.config.maxSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("interval registry: %w", err)
	}
	m.intervals = intervals
	m.lifeCtx, m.lifeCancel = context.WithCancel(context.Background())

	return m, nil
}

// [INITIALIZE] REGISTERS LIFECYCLE HANDLERS AND OPENS THE CONNECTION
func (m *SocketManager) Initialize(_ context.Context) error {
	if !m.initialized.CompareAndSwap(false, true) {
		return model.ErrAlreadyInitialized
	}

	m.client.On(event.Connect.String(), m.onConnect)
	m.client.On(event.Disconnect.String(), m.onDisconnect)
	m.client.On(event.SessionExpired.String(), m.onSessionExpired)
	for _, name := range event.Observed {
		m.client.On(name.String(), m.observe(name))
	}

	if err := m.client.Open(m.lifeCtx); err != nil {
		return fmt.Errorf("open socket: %w", err)
	}

	m.logger.Info("SOCKET_INITIALIZED")
	return nil
}

func (m *SocketManager) IsOnline() bool {
	return m.online.Load()
}

// [SHUTDOWN] ENDS RELAYS AND INTERVALS, THEN CLOSES THE TRANSPORT
func (m *SocketManager) Close(_ context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.stopRelays()
		m.intervals.EndAll(model.ErrOffline)
		m.lifeCancel()

		if m.initialized.Load() {
			err = m.client.Close()
		}
		m.online.Store(false)
		m.logger.Info("SOCKET_MANAGER_CLOSED")
	})
	return err
}

func (m *SocketManager) onConnect(_ []json.RawMessage) {
	m.online.Store(true)
	m.logger.Info("SOCKET_CONNECTED")

	if err := m.startRelays(); err != nil {
		m.logger.Error("RELAY_SUBSCRIBE_FAILED", "err", err)
	}

	if err := m.mediator.PublishOnline(m.lifeCtx); err != nil {
		m.logger.Warn("STATUS_PUBLISH_FAILED", "status", event.TopicOnline, "err", err)
	}
}

func (m *SocketManager) onDisconnect(args []json.RawMessage) {
	m.online.Store(false)

	var reason string
	if len(args) > 0 {
		_ = json.Unmarshal(args[0], &reason)
	}
	m.logger.Info("SOCKET_DISCONNECTED", "reason", reason)

	if err := m.mediator.PublishOffline(m.lifeCtx); err != nil {
		m.logger.Warn("STATUS_PUBLISH_FAILED", "status", event.TopicOffline, "err", err)
	}

	m.stopRelays()
	m.intervals.EndAll(model.ErrOffline)
}

// onSessionExpired alerts the user and navigates to the first location of an
// optional array argument.
func (m *SocketManager) onSessionExpired(args []json.RawMessage) {
	m.logger.Warn("SESSION_EXPIRED")
	m.navigator.Alert(SessionExpiredAlert)

	if len(args) == 0 {
		return
	}

	var location []string
	if err := json.Unmarshal(args[0], &location); err != nil {
		m.logger.Debug("SESSION_EXPIRED_LOCATION_IGNORED", "err", err)
		return
	}
	if len(location) == 0 || location[0] == "" {
		return
	}

	m.navigator.Navigate(location[0])
}

func (m *SocketManager) observe(name event.Name) socketio.Handler {
	return func(args []json.RawMessage) {
		attrs := []any{"event", name}
		if len(args) > 0 {
			attrs = append(attrs, "detail", string(args[0]))
		}
		m.logger.Info("SOCKET_LIFECYCLE", attrs...)
	}
}

// startRelays subscribes the relay handlers for a new generation.
func (m *SocketManager) startRelays() error {
	m.mu.Lock()
	if m.relayCancel != nil {
		m.relayCancel()
	}
	m.generation++
	gen := m.generation
	ctx, cancel := context.WithCancel(m.lifeCtx)
	m.relayCancel = cancel
	m.mu.Unlock()

	// [CONCURRENCY_OPTIMIZATION] All relays subscribe or none stay subscribed.
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return m.mediator.HandleSearch(ctx, m.relaySearch(gen)) })
	g.Go(func() error { return m.mediator.HandleRandom(ctx, m.relayRandom(gen)) })
	g.Go(func() error { return m.mediator.HandleRandomInterval(ctx, m.relayRandomInterval(gen)) })
	g.Go(func() error { return m.mediator.HandleIntervalStop(ctx, m.relayIntervalStop) })

	if err := g.Wait(); err != nil {
		cancel()
		return err
	}

	m.logger.Debug("RELAYS_SUBSCRIBED", "generation", gen)
	return nil
}

// stopRelays unsubscribes the relay handlers and invalidates their generation.
func (m *SocketManager) stopRelays() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.relayCancel == nil {
		return
	}
	m.relayCancel()
	m.relayCancel = nil
	m.generation++

	m.logger.Debug("RELAYS_UNSUBSCRIBED", "generation", m.generation)
}

// current reports whether gen is the live relay generation.
func (m *SocketManager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.relayCancel != nil && m.generation == gen
}

// transportErr maps transport failures onto the domain error set.
func transportErr(err error) error {
	switch {
	case errors.Is(err, socketio.ErrAckTimeout):
		return fmt.Errorf("%w: %v", model.ErrTimeout, err)
	case errors.Is(err, socketio.ErrNotConnected), errors.Is(err, socketio.ErrClosed):
		return fmt.Errorf("%w: %v", model.ErrNotConnected, err)
	default:
		return err
	}
}
