package service

// Option defines a functional configuration type for the SocketManager.
type Option func(*SocketManager)

// WithDefaultInterval sets the [PUSH_PERIOD] in seconds injected into
// randomInterval requests that do not name one.
func WithDefaultInterval(seconds int) Option {
	return func(m *SocketManager) {
		if seconds > 0 {
			m.config.defaultInterval = seconds
		}
	}
}

// WithMaxSubscriptions sets the [BACKPRESSURE] threshold: how many interval
// subscriptions may be live before the oldest is evicted.
func WithMaxSubscriptions(n int) Option {
	return func(m *SocketManager) {
		if n > 0 {
			m.config.maxSubscriptions = n
		}
	}
}
