package console

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/fortunes-client/internal/domain/event"
	"github.com/webitel/fortunes-client/internal/domain/model"
)

func TestStatusPump_PrintsUntilClosed(t *testing.T) {
	var buf bytes.Buffer
	pump := NewStatusPump(slog.New(slog.DiscardHandler), NewPrinter(&buf))

	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	statuses := make(chan event.Status, 2)
	statuses <- event.Status{Online: true, At: at}
	statuses <- event.Status{Online: false, At: at}
	close(statuses)

	require.NoError(t, pump.Pump(t.Context(), statuses))
	assert.Equal(t, "[15:04:05] online\n[15:04:05] offline\n", buf.String())
}

func TestAwaitOnline(t *testing.T) {
	statuses := make(chan event.Status, 2)
	statuses <- event.NewStatus(false)
	statuses <- event.NewStatus(true)

	require.NoError(t, AwaitOnline(t.Context(), statuses))
}

func TestAwaitOnline_ClosedStream(t *testing.T) {
	statuses := make(chan event.Status)
	close(statuses)

	assert.ErrorIs(t, AwaitOnline(t.Context(), statuses), ErrStatusClosed)
}

func TestAwaitOnline_Deadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := AwaitOnline(ctx, make(chan event.Status))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrinter_Fortune(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Fortune(model.RandomMessage{Data: json.RawMessage(`"Keep it simple"`)})
	p.Result(model.SearchResult{Data: json.RawMessage(`[{"id":1}]`)})

	assert.Equal(t, "Keep it simple\n[{\"id\":1}]\n", buf.String())
}

func TestNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(&buf, slog.New(slog.DiscardHandler))

	n.Alert("Session has expired. Please login again.")
	assert.Empty(t, n.Location())

	n.Navigate("/login")
	assert.Equal(t, "/login", n.Location())
	assert.Equal(t, "! Session has expired. Please login again.\n-> /login\n", buf.String())
}
