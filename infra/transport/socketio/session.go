package socketio

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// session is one live websocket with a joined namespace.
type session struct {
	conn *websocket.Conn
	open OpenParams

	// Write serialization
	writeMu sync.Mutex

	// Ack correlation
	pendingMu sync.Mutex
	pending   map[int64]*pendingAck

	closeOnce sync.Once
}

type pendingAck struct {
	fn    AckFunc
	timer *time.Timer
}

func newSession(conn *websocket.Conn, open OpenParams) *session {
	return &session{
		conn:    conn,
		open:    open,
		pending: make(map[int64]*pendingAck),
	}
}

func (s *session) write(data []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// register tracks an ack callback until it is resolved, times out or the
// session ends.
func (s *session) register(id int64, fn AckFunc, timeout time.Duration) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pending == nil {
		go fn(nil, ErrNotConnected)
		return
	}

	pa := &pendingAck{fn: fn}
	if timeout > 0 {
		pa.timer = time.AfterFunc(timeout, func() {
			if p := s.take(id); p != nil {
				p.fn(nil, ErrAckTimeout)
			}
		})
	}
	s.pending[id] = pa
}

func (s *session) take(id int64) *pendingAck {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	pa, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	if pa.timer != nil {
		pa.timer.Stop()
	}
	return pa
}

// resolve hands ack arguments to the waiting callback. Unknown or late ids
// are ignored.
func (s *session) resolve(id int64, args []json.RawMessage) bool {
	pa := s.take(id)
	if pa == nil {
		return false
	}
	pa.fn(args, nil)
	return true
}

// failPending fails every outstanding ack and refuses new ones.
func (s *session) failPending(err error) {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for _, pa := range pending {
		if pa.timer != nil {
			pa.timer.Stop()
		}
		pa.fn(nil, err)
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = s.conn.Close()
	})
}
