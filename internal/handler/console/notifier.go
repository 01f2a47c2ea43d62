package console

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Notifier shows session alerts and navigation requests on a terminal.
type Notifier struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
	last   string
}

func NewNotifier(out io.Writer, logger *slog.Logger) *Notifier {
	return &Notifier{
		out:    out,
		logger: logger,
	}
}

func (n *Notifier) Alert(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, _ = fmt.Fprintf(n.out, "! %s\n", message)
}

// Navigate records the location the user is sent to.
func (n *Notifier) Navigate(location string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.last = location
	n.logger.Info("NAVIGATE", "location", location)
	_, _ = fmt.Fprintf(n.out, "-> %s\n", location)
}

// Location is the last navigation target, empty if none.
func (n *Notifier) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}
