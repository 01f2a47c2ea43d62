package transportdi

import (
	"context"
	"log/slog"

	"github.com/webitel/fortunes-client/config"
	"github.com/webitel/fortunes-client/infra/transport/socketio"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"transport",

	// [CONSTRUCTOR] Provides the supervised Socket.IO client for the configured namespace
	fx.Provide(New),

	// [LIFECYCLE] Ensures the websocket is closed gracefully on app shutdown
	fx.Invoke(func(lc fx.Lifecycle, client socketio.Client) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
	}),
)

// New maps the client configuration onto a socketio.Client.
func New(cfg *config.Config, logger *slog.Logger) socketio.Client {
	return socketio.NewClient(
		socketio.Config{
			URL:              cfg.Server.URL,
			Path:             cfg.Server.Path,
			Namespace:        cfg.Server.Namespace,
			HandshakeTimeout: cfg.Server.HandshakeTimeout,
			WriteTimeout:     cfg.Server.WriteTimeout,
			AckTimeout:       cfg.Requests.AckTimeout,
		},
		logger.With("component", "socketio"),
		socketio.WithReconnect(socketio.ReconnectPolicy{
			Enabled:   cfg.Reconnect.Enabled,
			Attempts:  cfg.Reconnect.Attempts,
			BaseDelay: cfg.Reconnect.BaseDelay,
			MaxDelay:  cfg.Reconnect.MaxDelay,
		}),
		socketio.WithBreaker(socketio.BreakerPolicy{
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout,
		}),
	)
}
