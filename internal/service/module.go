package service

import (
	"context"
	"log/slog"

	"github.com/webitel/fortunes-client/config"
	"github.com/webitel/fortunes-client/infra/transport/socketio"
	"github.com/webitel/fortunes-client/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		fx.Annotate(
			func(cfg *config.Config, client socketio.Client, mediator pubsub.Mediator, nav Navigator, logger *slog.Logger) (*SocketManager, error) {
				return NewSocketManager(client, mediator, nav, logger.With("component", "manager"),
					WithDefaultInterval(cfg.Requests.DefaultInterval),
					WithMaxSubscriptions(cfg.Intervals.MaxSubscriptions),
				)
			},
			fx.As(new(Manager)),
		),
		// [DECORATION_LAYER] RandomProvider is handed out wrapped so consumers
		// outside this module get the cross-cutting concerns too.
		func(mediator pubsub.Mediator, logger *slog.Logger) RandomProvider {
			return NewProviderMiddleware(NewRandomDataProvider(mediator, logger), logger)
		},
	),

	// [LIFECYCLE] Ends relays and intervals before the transport and bus go away
	fx.Invoke(func(lc fx.Lifecycle, m Manager) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return m.Close(ctx)
			},
		})
	}),
)
