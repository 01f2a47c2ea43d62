package pubsub

import (
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// inbox queues the replies of one call. push never blocks, so the reply
// consumer acks at once however slow the caller is.
type inbox struct {
	mu     sync.Mutex
	queue  []*message.Message
	closed bool
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

func (b *inbox) push(msg *message.Message) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	return true
}

// next returns the oldest queued reply. It reports false once done is closed
// or the inbox is closed and drained.
func (b *inbox) next(done <-chan struct{}) (*message.Message, bool) {
	for {
		select {
		case <-done:
			return nil, false
		default:
		}

		b.mu.Lock()
		if len(b.queue) > 0 {
			msg := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return msg, true
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-b.signal:
		case <-done:
			return nil, false
		}
	}
}

func (b *inbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// [PENDING_CALLS]
// callTable correlates replies on the shared reply topic with their caller.
type callTable struct {
	mu      sync.Mutex
	pending map[string]*inbox
	closed  bool
}

func newCallTable() *callTable {
	return &callTable{pending: make(map[string]*inbox)}
}

// open registers a new call and returns its correlation id.
func (t *callTable) open() (string, *inbox) {
	id := uuid.NewString()
	box := newInbox()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		box.close()
		return id, box
	}
	t.pending[id] = box
	return id, box
}

// release forgets the call. Later replies for it are dropped.
func (t *callTable) release(id string) {
	t.mu.Lock()
	box, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()

	if ok {
		box.close()
	}
}

// deliver hands msg to its caller and reports whether one was waiting.
func (t *callTable) deliver(id string, msg *message.Message) bool {
	t.mu.Lock()
	box, ok := t.pending[id]
	t.mu.Unlock()

	if !ok {
		return false
	}
	return box.push(msg)
}

func (t *callTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// closeAll ends every call and refuses new ones.
func (t *callTable) closeAll() {
	t.mu.Lock()
	boxes := t.pending
	t.pending = make(map[string]*inbox)
	t.closed = true
	t.mu.Unlock()

	for _, box := range boxes {
		box.close()
	}
}
