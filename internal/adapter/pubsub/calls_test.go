package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallTable_DeliverAndRelease(t *testing.T) {
	calls := newCallTable()

	id, box := calls.open()
	assert.Equal(t, 1, calls.len())

	msg := message.NewMessage(watermill.NewUUID(), []byte(`"x"`))
	require.True(t, calls.deliver(id, msg))
	assert.False(t, calls.deliver("unknown", msg))

	got, ok := box.next(nil)
	require.True(t, ok)
	assert.Same(t, msg, got)

	calls.release(id)
	assert.Zero(t, calls.len())
	assert.False(t, calls.deliver(id, msg), "late reply delivered after release")

	_, ok = box.next(nil)
	assert.False(t, ok)
}

func TestCallTable_CloseAllDrainsQueuedReplies(t *testing.T) {
	calls := newCallTable()
	id, box := calls.open()

	require.True(t, calls.deliver(id, message.NewMessage("1", nil)))
	require.True(t, calls.deliver(id, message.NewMessage("2", nil)))
	calls.closeAll()

	for _, want := range []string{"1", "2"} {
		msg, ok := box.next(nil)
		require.True(t, ok)
		assert.Equal(t, want, msg.UUID)
	}
	_, ok := box.next(nil)
	assert.False(t, ok)

	_, late := calls.open()
	_, ok = late.next(nil)
	assert.False(t, ok, "call opened after closeAll must be closed")
}

func TestInbox_NextWaitsForPushOrDone(t *testing.T) {
	box := newInbox()

	done := make(chan struct{})
	close(done)
	_, ok := box.next(done)
	assert.False(t, ok)

	got := make(chan string, 1)
	go func() {
		msg, ok := box.next(nil)
		if ok {
			got <- msg.UUID
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, box.push(message.NewMessage("late", nil)))

	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("next did not wake on push")
	}
}

// recordingDispatcher stores published topics in order.
type recordingDispatcher struct {
	mu     sync.Mutex
	topics []string
	gate   chan struct{}
}

func (d *recordingDispatcher) Publish(_ context.Context, topic string, _ any, _ message.Metadata) error {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics = append(d.topics, topic)
	return nil
}

func (d *recordingDispatcher) Publisher() message.Publisher { return nil }

func (d *recordingDispatcher) published() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.topics...)
}

func TestOutbox_PublishesInOrderAndFlushesOnClose(t *testing.T) {
	next := &recordingDispatcher{gate: make(chan struct{})}
	o := newOutbox(next, slog.New(slog.DiscardHandler))

	for _, topic := range []string{"a", "b", "c"} {
		require.NoError(t, o.Publish(t.Context(), topic, nil, nil))
	}
	assert.Empty(t, next.published(), "Publish must not wait for the bus")

	close(next.gate)
	o.Close()

	assert.Equal(t, []string{"a", "b", "c"}, next.published())
	assert.ErrorIs(t, o.Publish(t.Context(), "d", nil, nil), ErrOutboxClosed)
}
