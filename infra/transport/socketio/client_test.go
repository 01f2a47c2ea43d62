package socketio

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNamespace = "/fortunes"

// serverConn is the server side of one accepted websocket.
type serverConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *serverConn) send(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// mockServer speaks just enough Engine.IO v4 / Socket.IO v5 for the client.
type mockServer struct {
	srv *httptest.Server

	// connectReply is sent after the namespace CONNECT. Defaults to a CONNECT ack.
	connectReply string
	// dropFirst closes the first accepted connection right after the handshake.
	dropFirst bool
	// onEvent is called for every client EVENT.
	onEvent func(sc *serverConn, p Packet)

	accepted atomic.Int32
	conns    chan *serverConn
	frames   chan string
}

func newMockServer(t *testing.T, setup func(m *mockServer)) *mockServer {
	t.Helper()

	m := &mockServer{
		connectReply: `40` + testNamespace + `,{"sid":"ns-sid"}`,
		conns:        make(chan *serverConn, 8),
		frames:       make(chan string, 64),
	}
	if setup != nil {
		setup(m)
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sc := &serverConn{conn: conn}
		if err := sc.send(`0{"sid":"eio-sid","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`); err != nil {
			return
		}

		_, join, err := conn.ReadMessage()
		if err != nil || string(join) != "40"+testNamespace+"," {
			return
		}
		if err := sc.send(m.connectReply); err != nil {
			return
		}

		n := m.accepted.Add(1)
		m.conns <- sc
		if m.dropFirst && n == 1 {
			return
		}

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case m.frames <- string(frame):
			default:
			}

			typ, body, err := DecodeFrame(frame)
			if err != nil || typ != EngineMessage {
				continue
			}
			p, err := DecodePacket(body)
			if err != nil {
				continue
			}
			if p.Type == PacketEvent && m.onEvent != nil {
				m.onEvent(sc, p)
			}
		}
	}))
	t.Cleanup(m.srv.Close)

	return m
}

func (m *mockServer) config() Config {
	cfg := DefaultConfig()
	cfg.URL = m.srv.URL
	cfg.Namespace = testNamespace
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.AckTimeout = 2 * time.Second
	return cfg
}

func (m *mockServer) waitConn(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-m.conns:
		return sc
	case <-time.After(3 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (m *mockServer) waitFrame(t *testing.T, match func(string) bool) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-m.frames:
			if match(f) {
				return f
			}
		case <-deadline:
			t.Fatal("expected frame not received")
			return ""
		}
	}
}

// signal turns lifecycle events into a channel of their first argument.
func signal(c Client, event string) <-chan []json.RawMessage {
	ch := make(chan []json.RawMessage, 16)
	c.On(event, func(args []json.RawMessage) {
		select {
		case ch <- args:
		default:
		}
	})
	return ch
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func openClient(t *testing.T, cfg Config, opts ...Option) Client {
	t.Helper()
	c := NewClient(cfg, slog.New(slog.DiscardHandler), opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_EmitWithAck(t *testing.T) {
	m := newMockServer(t, func(m *mockServer) {
		m.onEvent = func(sc *serverConn, p Packet) {
			name, args, _ := p.EventArgs()
			if name != "search" || p.ID == nil {
				return
			}
			ack, _ := NewAck(testNamespace, *p.ID, json.RawMessage(args[0]), map[string]int{"hits": 1})
			_ = sc.send(string(ack.Encode()))
		}
	})

	c := openClient(t, m.config())
	connected := signal(c, EventConnect)
	require.NoError(t, c.Open(context.Background()))
	wait(t, connected)
	assert.True(t, c.IsConnected())

	acked := make(chan []json.RawMessage, 1)
	require.NoError(t, c.Emit("search", map[string]any{}, func(args []json.RawMessage, err error) {
		assert.NoError(t, err)
		acked <- args
	}))

	args := wait(t, acked)
	require.Len(t, args, 2)
	assert.JSONEq(t, `{}`, string(args[0]))
	assert.JSONEq(t, `{"hits":1}`, string(args[1]))
}

func TestClient_ServerEventDispatch(t *testing.T) {
	m := newMockServer(t, nil)

	c := openClient(t, m.config())
	connected := signal(c, EventConnect)
	pushes := signal(c, "msg-key")
	require.NoError(t, c.Open(context.Background()))
	wait(t, connected)

	sc := m.waitConn(t)
	require.NoError(t, sc.send(`42`+testNamespace+`,["msg-key",{"text":"first"}]`))
	require.NoError(t, sc.send(`42`+testNamespace+`,["msg-key",{"text":"second"}]`))

	assert.JSONEq(t, `{"text":"first"}`, string(wait(t, pushes)[0]))
	assert.JSONEq(t, `{"text":"second"}`, string(wait(t, pushes)[0]))

	c.Off("msg-key")
	require.NoError(t, sc.send(`42`+testNamespace+`,["msg-key",{"text":"third"}]`))
	select {
	case <-pushes:
		t.Fatal("handler called after Off")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_AcksServerEvent(t *testing.T) {
	m := newMockServer(t, nil)

	c := openClient(t, m.config())
	connected := signal(c, EventConnect)
	require.NoError(t, c.Open(context.Background()))
	wait(t, connected)

	sc := m.waitConn(t)
	require.NoError(t, sc.send(`42`+testNamespace+`,5["hello"]`))

	frame := m.waitFrame(t, func(f string) bool { return strings.HasPrefix(f, "43") })
	assert.Equal(t, `43`+testNamespace+`,5[]`, frame)
}

func TestClient_AnswersPing(t *testing.T) {
	m := newMockServer(t, nil)

	c := openClient(t, m.config())
	connected := signal(c, EventConnect)
	require.NoError(t, c.Open(context.Background()))
	wait(t, connected)

	sc := m.waitConn(t)
	require.NoError(t, sc.send("2"))
	assert.Equal(t, "3", m.waitFrame(t, func(f string) bool { return f == "3" }))
}

func TestClient_AckTimeout(t *testing.T) {
	m := newMockServer(t, nil)

	cfg := m.config()
	cfg.AckTimeout = 50 * time.Millisecond

	c := openClient(t, cfg)
	connected := signal(c, EventConnect)
	require.NoError(t, c.Open(context.Background()))
	wait(t, connected)

	failed := make(chan error, 1)
	require.NoError(t, c.Emit("random", map[string]any{}, func(_ []json.RawMessage, err error) {
		failed <- err
	}))

	assert.ErrorIs(t, wait(t, failed), ErrAckTimeout)
}

func TestClient_EmitNotConnected(t *testing.T) {
	c := NewClient(DefaultConfig(), nil)
	err := c.Emit("search", nil, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestClient_PendingAckFailsOnDrop(t *testing.T) {
	m := newMockServer(t, nil)

	c := openClient(t, m.config(), WithReconnect(ReconnectPolicy{Enabled: false}))
	connected := signal(c, EventConnect)
	disconnected := signal(c, EventDisconnect)
	require.NoError(t, c.Open(context.Background()))
	wait(t, connected)

	failed := make(chan error, 1)
	require.NoError(t, c.Emit("random", map[string]any{}, func(_ []json.RawMessage, err error) {
		failed <- err
	}))

	sc := m.waitConn(t)
	require.NoError(t, sc.conn.Close())

	assert.ErrorIs(t, wait(t, failed), ErrNotConnected)
	wait(t, disconnected)
	assert.False(t, c.IsConnected())
}

func TestClient_ReconnectAfterDrop(t *testing.T) {
	m := newMockServer(t, func(m *mockServer) { m.dropFirst = true })

	c := openClient(t, m.config(), WithReconnect(ReconnectPolicy{
		Enabled:   true,
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  50 * time.Millisecond,
	}))
	connected := signal(c, EventConnect)
	disconnected := signal(c, EventDisconnect)
	reconnecting := signal(c, EventReconnecting)
	reconnected := signal(c, EventReconnect)

	require.NoError(t, c.Open(context.Background()))

	wait(t, connected)
	wait(t, disconnected)

	attempt := wait(t, reconnecting)
	require.Len(t, attempt, 1)
	assert.JSONEq(t, `1`, string(attempt[0]))

	wait(t, connected)
	wait(t, reconnected)
	assert.True(t, c.IsConnected())
	assert.EqualValues(t, 2, m.accepted.Load())
}

func TestClient_ConnectError(t *testing.T) {
	m := newMockServer(t, func(m *mockServer) {
		m.connectReply = `44` + testNamespace + `,{"message":"unauthorized"}`
	})

	c := openClient(t, m.config(), WithReconnect(ReconnectPolicy{Enabled: false}))
	failed := signal(c, EventConnectFailed)
	require.NoError(t, c.Open(context.Background()))

	args := wait(t, failed)
	require.Len(t, args, 1)
	assert.Contains(t, string(args[0]), "unauthorized")
	assert.False(t, c.IsConnected())
}

func TestClient_ReconnectAttemptsExhausted(t *testing.T) {
	// Nothing listens on a closed server.
	m := newMockServer(t, nil)
	cfg := m.config()
	m.srv.Close()

	c := openClient(t, cfg, WithReconnect(ReconnectPolicy{
		Enabled:   true,
		Attempts:  2,
		BaseDelay: 5 * time.Millisecond,
		MaxDelay:  10 * time.Millisecond,
	}))
	connectFailed := signal(c, EventConnectFailed)
	exhausted := signal(c, EventReconnectFailed)
	require.NoError(t, c.Open(context.Background()))

	wait(t, connectFailed)
	args := wait(t, exhausted)
	require.Len(t, args, 1)
	assert.JSONEq(t, `2`, string(args[0]))
}

func TestClient_OpenTwice(t *testing.T) {
	m := newMockServer(t, nil)

	c := openClient(t, m.config())
	require.NoError(t, c.Open(context.Background()))
	assert.ErrorIs(t, c.Open(context.Background()), ErrAlreadyOpen)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Open(context.Background()), ErrClosed)
}

func TestClient_ConnectErrorMidSessionEndsSession(t *testing.T) {
	m := newMockServer(t, nil)

	c := openClient(t, m.config(), WithReconnect(ReconnectPolicy{
		Enabled:   true,
		BaseDelay: 5 * time.Millisecond,
	}))
	connected := signal(c, EventConnect)
	disconnected := signal(c, EventDisconnect)
	errored := signal(c, EventError)
	require.NoError(t, c.Open(context.Background()))
	wait(t, connected)

	sc := m.waitConn(t)
	require.NoError(t, sc.send(`44`+testNamespace+`,{"message":"revoked"}`))

	reason := wait(t, disconnected)
	require.Len(t, reason, 1)
	assert.Contains(t, string(reason[0]), "server disconnect")
	assert.Contains(t, string(reason[0]), "revoked")

	detail := wait(t, errored)
	require.Len(t, detail, 1)
	assert.Contains(t, string(detail[0]), "revoked")

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Emit("search", nil, nil), ErrNotConnected)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, m.accepted.Load())
}

func TestClient_ServerDisconnectStopsReconnect(t *testing.T) {
	m := newMockServer(t, nil)

	c := openClient(t, m.config(), WithReconnect(ReconnectPolicy{
		Enabled:   true,
		BaseDelay: 5 * time.Millisecond,
	}))
	connected := signal(c, EventConnect)
	disconnected := signal(c, EventDisconnect)
	require.NoError(t, c.Open(context.Background()))
	wait(t, connected)

	sc := m.waitConn(t)
	require.NoError(t, sc.send(`41`+testNamespace+`,`))

	reason := wait(t, disconnected)
	require.Len(t, reason, 1)
	assert.Contains(t, string(reason[0]), "server disconnect")

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, m.accepted.Load())
}
