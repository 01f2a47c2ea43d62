package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/webitel/fortunes-client/infra/transport/socketio"
)

type emitCall struct {
	event   string
	payload any
}

// fakeClient is an in-memory socketio.Client. Events are fired by the test;
// emits are recorded and answered by respond.
type fakeClient struct {
	mu        sync.Mutex
	handlers  map[string][]socketio.Handler
	emits     []emitCall
	offs      []string
	opened    int
	closed    bool
	connected bool

	// respond answers emits that carry an ack. nil leaves them pending.
	respond func(event string, payload any) ([]json.RawMessage, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string][]socketio.Handler)}
}

func (f *fakeClient) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	wasConnected := f.connected
	f.mu.Unlock()

	if wasConnected {
		f.disconnect("io client disconnect")
	}
	return nil
}

func (f *fakeClient) On(event string, h socketio.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeClient) Off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
	f.offs = append(f.offs, event)
}

func (f *fakeClient) Emit(event string, payload any, ack socketio.AckFunc) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return socketio.ErrNotConnected
	}
	f.emits = append(f.emits, emitCall{event: event, payload: payload})
	respond := f.respond
	f.mu.Unlock()

	if ack != nil && respond != nil {
		args, err := respond(event, payload)
		ack(args, err)
	}
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) connect() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.fire(socketio.EventConnect)
}

func (f *fakeClient) disconnect(reason string) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fire(socketio.EventDisconnect, raw(reason))
}

func (f *fakeClient) fire(event string, args ...json.RawMessage) {
	f.mu.Lock()
	hs := append([]socketio.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()

	for _, h := range hs {
		h(args)
	}
}

func (f *fakeClient) hasHandler(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[event]) > 0
}

func (f *fakeClient) emitted() []emitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitCall(nil), f.emits...)
}

func (f *fakeClient) offCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.offs...)
}

func raw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
