package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/fortunes-client/internal/domain/event"
	"github.com/webitel/fortunes-client/internal/domain/model"
)

// ErrStatusClosed is returned when the status stream ends before the
// awaited state arrives.
var ErrStatusClosed = errors.New("status stream closed")

// Printer renders statuses and fortunes on a terminal.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Status(st event.Status) {
	state := "offline"
	if st.Online {
		state = "online"
	}
	p.println(fmt.Sprintf("[%s] %s", st.At.Format(time.TimeOnly), state))
}

func (p *Printer) Fortune(msg model.RandomMessage) {
	p.println(msg.Text())
}

func (p *Printer) Result(res model.SearchResult) {
	p.println(string(res.Data))
}

func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}

// StatusPump prints connection status changes.
type StatusPump struct {
	logger  *slog.Logger
	printer *Printer
}

func NewStatusPump(logger *slog.Logger, printer *Printer) *StatusPump {
	return &StatusPump{
		logger:  logger,
		printer: printer,
	}
}

// Pump runs the main print loop until ctx ends or the stream is closed.
func (h *StatusPump) Pump(ctx context.Context, statuses <-chan event.Status) error {
	h.logger.Info("status pump opened")

	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-statuses:
			if !ok {
				return nil
			}
			h.printer.Status(st)
		}
	}
}

// AwaitOnline consumes statuses until the connection is online.
func AwaitOnline(ctx context.Context, statuses <-chan event.Status) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection: %w", ctx.Err())
		case st, ok := <-statuses:
			if !ok {
				return ErrStatusClosed
			}
			if st.Online {
				return nil
			}
		}
	}
}
