package socketio

import "errors"

var (
	ErrNotConnected     = errors.New("socketio: not connected")
	ErrAlreadyOpen      = errors.New("socketio: client already open")
	ErrClosed           = errors.New("socketio: client closed")
	ErrAckTimeout       = errors.New("socketio: ack timeout")
	ErrMalformedPacket  = errors.New("socketio: malformed packet")
	ErrHandshakeTimeout = errors.New("socketio: handshake timeout")
	ErrServerDisconnect = errors.New("socketio: server disconnect")
)
