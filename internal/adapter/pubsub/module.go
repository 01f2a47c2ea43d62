package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/fortunes-client/config"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"mediator",

	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, bus *gochannel.GoChannel, logger *slog.Logger, tp trace.TracerProvider) (Mediator, error) {
			m, err := NewMediator(bus, bus, logger.With("component", "mediator"), tp,
				WithRequestTimeout(cfg.Requests.Timeout),
				WithMiddleware(NewTimeoutMiddleware(cfg.Requests.Timeout)),
			)
			if err != nil {
				return nil, err
			}

			lc.Append(fx.Hook{
				OnStart: m.Start,
				OnStop: func(context.Context) error {
					return m.Close()
				},
			})
			return m, nil
		},
	),
)
