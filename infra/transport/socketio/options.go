package socketio

import (
	"net/http"
	"time"
)

// Config describes how to reach a Socket.IO namespace.
type Config struct {
	URL              string        // Server base URL (http, https, ws or wss)
	Path             string        // Engine.IO endpoint path, "/socket.io/" by default
	Namespace        string        // Namespace to join, e.g. "/fortunes"
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial + namespace connect deadline
	WriteTimeout     time.Duration // Write deadline per frame
	AckTimeout       time.Duration // How long an emit waits for its ack
}

// ReconnectPolicy controls the supervisor loop after a lost or failed connection.
type ReconnectPolicy struct {
	Enabled   bool
	Attempts  int // 0 means unlimited
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// BreakerPolicy controls the dial circuit breaker.
type BreakerPolicy struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a local server.
func DefaultConfig() Config {
	return Config{
		URL:              "http://localhost:3000",
		Path:             "/socket.io/",
		Namespace:        rootNamespace,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		AckTimeout:       10 * time.Second,
	}
}

// Option defines a functional configuration type for the Client.
type Option func(*client)

// WithReconnect overrides the reconnection policy.
func WithReconnect(p ReconnectPolicy) Option {
	return func(c *client) {
		c.reconnect = p
	}
}

// WithBreaker overrides the dial circuit breaker policy.
func WithBreaker(p BreakerPolicy) Option {
	return func(c *client) {
		c.breakerPolicy = p
	}
}
