// Package socketio is a Socket.IO v5 client speaking Engine.IO v4 over a
// single websocket. It joins one namespace, supervises the connection with
// exponential backoff, and exposes an event-emitter API.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
)

// Handler receives the arguments of an event.
type Handler func(args []json.RawMessage)

// AckFunc receives the arguments of an ack, or the error that prevented it.
type AckFunc func(args []json.RawMessage, err error)

// Client is a supervised connection to one Socket.IO namespace.
type Client interface {
	// Open starts connecting in the background. ctx bounds the client lifetime.
	Open(ctx context.Context) error

	// Close stops the supervisor and closes the live connection.
	Close() error

	// On appends a handler for a server or lifecycle event.
	On(event string, h Handler)

	// Off removes every handler for the event.
	Off(event string)

	// Emit sends an event. A non-nil ack is called exactly once.
	Emit(event string, payload any, ack AckFunc) error

	// IsConnected reports whether the namespace is currently joined.
	IsConnected() bool
}

var errEngineClosed = errors.New("socketio: transport close")

// client implements the Client interface.
type client struct {
	cfg    Config
	logger *slog.Logger

	reconnect     ReconnectPolicy
	breakerPolicy BreakerPolicy
	breaker       *gobreaker.CircuitBreaker

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	// State
	mu     sync.RWMutex
	sess   *session
	opened bool
	closed bool
	cancel context.CancelFunc
	done   chan struct{}

	ackID atomic.Int64
}

// NewClient creates a client for cfg. Nothing is dialed until Open.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) Client {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}

	c := &client{
		cfg:    cfg,
		logger: logger.With("namespace", cfg.Namespace),
		reconnect: ReconnectPolicy{
			Enabled:   true,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  30 * time.Second,
		},
		breakerPolicy: BreakerPolicy{
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	maxFailures := c.breakerPolicy.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "socketio-dial",
		MaxRequests: 1,
		Timeout:     c.breakerPolicy.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("DIAL_BREAKER_STATE", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// Open starts the supervisor goroutine.
func (c *client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.supervise(runCtx)
	return nil
}

// Close stops reconnecting and tears the live session down.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	opened := c.opened
	cancel := c.cancel
	c.mu.Unlock()

	if !opened {
		return nil
	}

	cancel()
	<-c.done
	return nil
}

func (c *client) On(event string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.handlers[event] = append(c.handlers[event], h)
}

func (c *client) Off(event string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	delete(c.handlers, event)
}

func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sess != nil
}

// Emit writes an EVENT packet. With a non-nil ack the packet carries an id
// and the callback is resolved by the server ACK, the ack timeout or the end
// of the session, whichever comes first.
func (c *client) Emit(event string, payload any, ack AckFunc) error {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()

	if sess == nil {
		return ErrNotConnected
	}

	var id *int64
	if ack != nil {
		n := c.ackID.Add(1)
		id = &n
	}

	var args []any
	if payload != nil {
		args = append(args, payload)
	}

	p, err := NewEvent(c.cfg.Namespace, event, id, args...)
	if err != nil {
		return err
	}

	if id != nil {
		sess.register(*id, ack, c.cfg.AckTimeout)
	}

	if err := sess.write(p.Encode(), c.cfg.WriteTimeout); err != nil {
		if id != nil {
			sess.take(*id)
		}
		return fmt.Errorf("emit %s: %w", event, err)
	}

	c.logger.Debug("SOCKET_EMIT", "event", event, "ack_id", id)
	return nil
}

// supervise owns the connect / serve / reconnect cycle.
func (c *client) supervise(ctx context.Context) {
	defer close(c.done)

	bo := backoff.NewExponentialBackOff()
	bo.Multiplier = 2
	if c.reconnect.BaseDelay > 0 {
		bo.InitialInterval = c.reconnect.BaseDelay
	}
	if c.reconnect.MaxDelay > 0 {
		bo.MaxInterval = c.reconnect.MaxDelay
	}
	bo.Reset()

	attempt := 0
	for {
		if attempt == 0 {
			c.fire(EventConnecting)
		} else {
			c.fire(EventReconnecting, attempt)
		}

		sess, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("SOCKET_DIAL_FAILED", "attempt", attempt, "err", err)
			if attempt == 0 {
				c.fire(EventConnectFailed, err.Error())
			} else {
				c.fire(EventError, err.Error())
			}
		} else {
			c.attach(sess)
			c.fire(EventConnect)
			if attempt > 0 {
				c.fire(EventReconnect, attempt)
			}
			bo.Reset()

			reason := c.serve(ctx, sess)
			c.detach(sess, reason)

			if ctx.Err() != nil {
				return
			}
			if errors.Is(reason, ErrServerDisconnect) {
				c.logger.Info("SOCKET_SERVER_DISCONNECT")
				return
			}
			attempt = 0
		}

		if !c.reconnect.Enabled {
			return
		}
		if c.reconnect.Attempts > 0 && attempt >= c.reconnect.Attempts {
			c.fire(EventReconnectFailed, attempt)
			return
		}
		attempt++

		wait := bo.NextBackOff()
		c.logger.Debug("SOCKET_RECONNECT_SCHEDULED", "attempt", attempt, "wait_ms", wait.Milliseconds())

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// dial runs the handshake through the circuit breaker.
func (c *client) dial(ctx context.Context) (*session, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.handshake(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.(*session), nil
}

// handshake dials the websocket, reads the Engine.IO open packet and joins
// the namespace.
func (c *client) handshake(ctx context.Context) (*session, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(hctx, endpoint, c.cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	deadline, _ := hctx.Deadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}

	open, err := readOpen(conn)
	if err != nil {
		conn.Close()
		return nil, handshakeErr(err)
	}

	sess := newSession(conn, open)
	join := Packet{Type: PacketConnect, Namespace: c.cfg.Namespace}
	if err := sess.write(join.Encode(), c.cfg.WriteTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join namespace: %w", err)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, handshakeErr(err)
		}

		t, body, err := DecodeFrame(frame)
		if err != nil {
			continue
		}

		switch t {
		case EnginePing:
			if err := sess.write([]byte{byte(EnginePong)}, c.cfg.WriteTimeout); err != nil {
				conn.Close()
				return nil, err
			}
		case EngineClose:
			conn.Close()
			return nil, errEngineClosed
		case EngineMessage:
			p, err := DecodePacket(body)
			if err != nil || p.Namespace != c.cfg.Namespace {
				continue
			}
			switch p.Type {
			case PacketConnect:
				if err := conn.SetReadDeadline(time.Time{}); err != nil {
					conn.Close()
					return nil, err
				}
				c.logger.Debug("SOCKET_NAMESPACE_JOINED", "sid", open.SID)
				return sess, nil
			case PacketConnectError:
				conn.Close()
				return nil, decodeConnectError(p.Data)
			}
		}
	}
}

func (c *client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(c.cfg.Path, "/")
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// serve reads frames until the session ends and returns the reason.
func (c *client) serve(ctx context.Context, sess *session) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			sess.close()
		case <-stop:
		}
	}()

	window := sess.open.HeartbeatWindow()
	for {
		if err := sess.conn.SetReadDeadline(time.Now().Add(window)); err != nil {
			return err
		}

		_, frame, err := sess.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ErrClosed
			}
			return fmt.Errorf("read: %w", err)
		}

		t, body, err := DecodeFrame(frame)
		if err != nil {
			c.logger.Warn("SOCKET_BAD_FRAME", "err", err)
			continue
		}

		switch t {
		case EnginePing:
			if err := sess.write([]byte{byte(EnginePong)}, c.cfg.WriteTimeout); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
		case EngineClose:
			return errEngineClosed
		case EngineMessage:
			if err := c.handlePacket(sess, body); err != nil {
				if errors.Is(err, ErrServerDisconnect) {
					return err
				}
				c.logger.Warn("SOCKET_BAD_PACKET", "err", err)
			}
		}
	}
}

func (c *client) handlePacket(sess *session, body []byte) error {
	p, err := DecodePacket(body)
	if err != nil {
		return err
	}
	if p.Namespace != c.cfg.Namespace {
		return nil
	}

	switch p.Type {
	case PacketEvent:
		name, args, err := p.EventArgs()
		if err != nil {
			return err
		}
		c.dispatch(name, args)

		if p.ID != nil {
			ack, err := NewAck(c.cfg.Namespace, *p.ID)
			if err != nil {
				return err
			}
			if err := sess.write(ack.Encode(), c.cfg.WriteTimeout); err != nil {
				return fmt.Errorf("ack server event %s: %w", name, err)
			}
		}

	case PacketAck:
		if p.ID == nil {
			return fmt.Errorf("%w: ack without id", ErrMalformedPacket)
		}
		args, err := p.AckArgs()
		if err != nil {
			return err
		}
		if !sess.resolve(*p.ID, args) {
			c.logger.Debug("SOCKET_ACK_UNMATCHED", "ack_id", *p.ID)
		}

	case PacketDisconnect:
		return ErrServerDisconnect

	case PacketConnectError:
		// The server revoked the namespace: the session is over, as on DISCONNECT.
		ce := decodeConnectError(p.Data)
		c.fire(EventError, ce.Error())
		return fmt.Errorf("%w: %w", ErrServerDisconnect, ce)
	}

	return nil
}

func (c *client) attach(sess *session) {
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
}

// detach clears the live session, fails its pending acks and raises the
// close / disconnect lifecycle events.
func (c *client) detach(sess *session, reason error) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()

	sess.close()
	sess.failPending(ErrNotConnected)

	msg := "io client disconnect"
	if reason != nil && !errors.Is(reason, ErrClosed) {
		msg = reason.Error()
	}
	c.fire(EventClose, msg)
	c.fire(EventDisconnect, msg)
}

// fire raises a locally generated event.
func (c *client) fire(event string, vals ...any) {
	args := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		args = append(args, raw)
	}
	c.dispatch(event, args)
}

// dispatch calls the handlers for event in registration order.
func (c *client) dispatch(event string, args []json.RawMessage) {
	c.handlersMu.RLock()
	hs := append([]Handler(nil), c.handlers[event]...)
	c.handlersMu.RUnlock()

	for _, h := range hs {
		h(args)
	}
}

func readOpen(conn *websocket.Conn) (OpenParams, error) {
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return OpenParams{}, err
	}

	t, body, err := DecodeFrame(frame)
	if err != nil {
		return OpenParams{}, err
	}
	if t != EngineOpen {
		return OpenParams{}, fmt.Errorf("%w: expected open packet, got %q", ErrMalformedPacket, byte(t))
	}

	var open OpenParams
	if err := json.Unmarshal(body, &open); err != nil {
		return OpenParams{}, fmt.Errorf("%w: open payload: %v", ErrMalformedPacket, err)
	}
	if open.PingInterval <= 0 {
		open.PingInterval = 25000
	}
	if open.PingTimeout <= 0 {
		open.PingTimeout = 20000
	}
	return open, nil
}

func decodeConnectError(data json.RawMessage) error {
	ce := &ConnectError{}
	if err := json.Unmarshal(data, ce); err != nil {
		var msg string
		if json.Unmarshal(data, &msg) == nil {
			ce.Message = msg
		} else {
			ce.Message = string(data)
		}
	}
	return ce
}

func handshakeErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrHandshakeTimeout
	}
	return fmt.Errorf("handshake: %w", err)
}
