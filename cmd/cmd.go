package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/fortunes-client/config"
	"github.com/webitel/fortunes-client/internal/adapter/pubsub"
	"github.com/webitel/fortunes-client/internal/domain/event"
	"github.com/webitel/fortunes-client/internal/domain/model"
	"github.com/webitel/fortunes-client/internal/handler/console"
	"github.com/webitel/fortunes-client/internal/service"
	"go.uber.org/fx"
)

const (
	ServiceName      = "fortunes-client"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

const shutdownTimeout = 10 * time.Second

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Socket.IO client for the fortunes namespace",
		Version: fmt.Sprintf("%s (%s@%s, %s) %s", version, branch, commit, commitDate, buildTimestamp),
		Commands: []*cli.Command{
			listenCmd(),
			randomCmd(),
			searchCmd(),
			watchCmd(),
		},
	}

	return app.Run(os.Args)
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config_file",
		Usage:   "Path to the configuration file",
		EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
	}
}

func optionFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "option",
		Aliases: []string{"o"},
		Usage:   "Request option as key=value (repeatable)",
	}
}

func listenCmd() *cli.Command {
	return &cli.Command{
		Name:    "listen",
		Aliases: []string{"l"},
		Usage:   "Connect and print connection status until interrupted",
		Flags:   []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			return withClient(c, func(ctx context.Context, cmp *components, statuses <-chan event.Status) error {
				return cmp.Pump.Pump(ctx, statuses)
			})
		},
	}
}

func randomCmd() *cli.Command {
	return &cli.Command{
		Name:    "random",
		Aliases: []string{"r"},
		Usage:   "Print one random fortune",
		Flags:   []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			return withClient(c, func(ctx context.Context, cmp *components, statuses <-chan event.Status) error {
				if err := awaitOnline(ctx, cmp, statuses); err != nil {
					return err
				}
				return cmp.Provider.GetData(ctx, cmp.Printer.Fortune)
			})
		},
	}
}

func searchCmd() *cli.Command {
	return &cli.Command{
		Name:    "search",
		Aliases: []string{"s"},
		Usage:   "Search fortunes",
		Flags:   []cli.Flag{configFlag(), optionFlag()},
		Action: func(c *cli.Context) error {
			opts, err := parseOptions(c.StringSlice("option"))
			if err != nil {
				return err
			}

			return withClient(c, func(ctx context.Context, cmp *components, statuses <-chan event.Status) error {
				if err := awaitOnline(ctx, cmp, statuses); err != nil {
					return err
				}

				res, err := cmp.Mediator.Search(ctx, model.SearchRequest{Options: opts})
				if err != nil {
					return err
				}
				cmp.Printer.Result(res)
				return nil
			})
		},
	}
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"w"},
		Usage:   "Print random fortunes pushed at an interval until interrupted",
		Flags: []cli.Flag{
			configFlag(),
			optionFlag(),
			&cli.IntFlag{
				Name:  "interval",
				Usage: "Seconds between pushes (0 uses requests.default_interval)",
			},
		},
		Action: func(c *cli.Context) error {
			opts, err := parseOptions(c.StringSlice("option"))
			if err != nil {
				return err
			}
			req := model.RandomIntervalRequest{Options: opts, Interval: c.Int("interval")}

			return withClient(c, func(ctx context.Context, cmp *components, statuses <-chan event.Status) error {
				if err := awaitOnline(ctx, cmp, statuses); err != nil {
					return err
				}

				sub, err := cmp.Mediator.RandomInterval(ctx, req, cmp.Printer.Fortune)
				if err != nil {
					return err
				}
				slog.Info("WATCHING", "key", sub.Key())

				select {
				case <-sub.Done():
					return sub.Err()
				case <-ctx.Done():
				}

				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return sub.Stop(stopCtx)
			})
		},
	}
}

// components are the pieces of the fx graph the commands drive.
type components struct {
	Config   *config.Config
	Manager  service.Manager
	Mediator pubsub.Mediator
	Provider service.RandomProvider
	Pump     *console.StatusPump
	Printer  *console.Printer
}

// withClient starts the app, subscribes to status, initializes the socket and
// runs fn until it returns or the process is interrupted.
func withClient(c *cli.Context, fn func(ctx context.Context, cmp *components, statuses <-chan event.Status) error) error {
	cfg, err := config.LoadConfig(c.String("config_file"))
	if err != nil {
		return err
	}

	var cmp components
	app := NewApp(cfg, fx.Populate(
		&cmp.Config,
		&cmp.Manager,
		&cmp.Mediator,
		&cmp.Provider,
		&cmp.Pump,
		&cmp.Printer,
	))

	if err := app.Start(c.Context); err != nil {
		return err
	}
	defer func() {
		slog.Info("Shutting down...")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			slog.Error("SHUTDOWN_FAILED", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	statuses, err := cmp.Mediator.SubscribeStatus(ctx)
	if err != nil {
		return err
	}

	if err := cmp.Manager.Initialize(ctx); err != nil {
		return err
	}

	return fn(ctx, &cmp, statuses)
}

// awaitOnline blocks until the first connect, then keeps printing status
// changes in the background.
func awaitOnline(ctx context.Context, cmp *components, statuses <-chan event.Status) error {
	if !cmp.Manager.IsOnline() {
		wait := cmp.Config.Server.HandshakeTimeout + cmp.Config.Requests.Timeout
		wctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()

		if err := console.AwaitOnline(wctx, statuses); err != nil {
			return err
		}
	}

	go func() {
		_ = cmp.Pump.Pump(ctx, statuses)
	}()
	return nil
}

// parseOptions turns key=value pairs into request options. Values that parse
// as JSON (numbers, booleans, objects) keep their type, the rest are strings.
func parseOptions(pairs []string) (model.Options, error) {
	opts := make(model.Options, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", pair)
		}

		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		opts[key] = v
	}
	return opts, nil
}
