package console

import (
	"log/slog"
	"os"

	"github.com/webitel/fortunes-client/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"console",

	fx.Provide(
		func() *Printer { return NewPrinter(os.Stdout) },
		NewStatusPump,
		fx.Annotate(
			func(logger *slog.Logger) *Notifier { return NewNotifier(os.Stderr, logger) },
			fx.As(new(service.Navigator)),
		),
	),
)
