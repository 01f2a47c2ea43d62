package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/fortunes-client/config"
	transportdi "github.com/webitel/fortunes-client/infra/transport/di"
	"github.com/webitel/fortunes-client/internal/adapter/pubsub"
	"github.com/webitel/fortunes-client/internal/handler/console"
	"github.com/webitel/fortunes-client/internal/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideTracer,
			ProvidePubSub,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Invoke(WatchConfig),
		pubsub.Module,
		transportdi.Module,
		console.Module,
		service.Module,
		fx.Options(opts...),
	)
}

// ProvideLogger builds the process logger. The level is a LevelVar so config
// reloads can change it at runtime.
func ProvideLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Log.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler).With(
		"service", ServiceName,
		"version", version,
	)
	slog.SetDefault(logger)

	return logger, level
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// ProvideTracer installs the SDK tracer provider so mediator spans carry real
// trace ids.
func ProvideTracer(lc fx.Lifecycle) trace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("service.namespace", ServiceNamespace),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tp
}

// ProvidePubSub creates the in-process bus and closes it last on shutdown.
func ProvidePubSub(lc fx.Lifecycle, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	bus := pubsub.NewGoChannel(logger)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return bus.Close()
		},
	})

	return bus
}

// WatchConfig applies log level changes from the config file without a restart.
func WatchConfig(cfg *config.Config, level *slog.LevelVar, logger *slog.Logger) {
	cfg.OnChange(
		func(next *config.Config) {
			level.Set(next.Log.SlogLevel())
			logger.Info("CONFIG_RELOADED", "log_level", next.Log.SlogLevel().String())
		},
		func(err error) {
			logger.Warn("CONFIG_RELOAD_REJECTED", "err", err)
		},
	)
}
