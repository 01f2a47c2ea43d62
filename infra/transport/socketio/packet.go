package socketio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EngineType is the Engine.IO packet type (first byte of a frame).
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

// PacketType is the Socket.IO packet type carried inside an Engine.IO message.
type PacketType byte

const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
)

const rootNamespace = "/"

// Packet is a decoded Socket.IO packet.
type Packet struct {
	Type      PacketType
	Namespace string
	ID        *int64
	Data      json.RawMessage
}

// OpenParams is the payload of the Engine.IO open packet.
type OpenParams struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"` // milliseconds
	PingTimeout  int64    `json:"pingTimeout"`  // milliseconds
	MaxPayload   int64    `json:"maxPayload"`
}

// HeartbeatWindow is the longest silence tolerated before the connection is
// considered dead.
func (p OpenParams) HeartbeatWindow() time.Duration {
	return time.Duration(p.PingInterval+p.PingTimeout) * time.Millisecond
}

// ConnectError is the payload of a CONNECT_ERROR packet.
type ConnectError struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("namespace connect refused: %s", e.Message)
}

// Encode renders p as an Engine.IO message frame.
func (p Packet) Encode() []byte {
	var b bytes.Buffer
	b.WriteByte(byte(EngineMessage))
	b.WriteByte(byte(p.Type))
	if p.Namespace != "" && p.Namespace != rootNamespace {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID != nil {
		b.WriteString(strconv.FormatInt(*p.ID, 10))
	}
	if len(p.Data) > 0 {
		b.Write(p.Data)
	}
	return b.Bytes()
}

// NewEvent builds an EVENT packet: ["name", args...].
func NewEvent(namespace, name string, id *int64, args ...any) (Packet, error) {
	frame := make([]any, 0, len(args)+1)
	frame = append(frame, name)
	frame = append(frame, args...)
	data, err := json.Marshal(frame)
	if err != nil {
		return Packet{}, fmt.Errorf("encode event %q: %w", name, err)
	}
	return Packet{Type: PacketEvent, Namespace: namespace, ID: id, Data: data}, nil
}

// NewAck builds an ACK packet replying to id.
func NewAck(namespace string, id int64, args ...any) (Packet, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return Packet{}, fmt.Errorf("encode ack %d: %w", id, err)
	}
	return Packet{Type: PacketAck, Namespace: namespace, ID: &id, Data: data}, nil
}

// DecodeFrame splits an Engine.IO frame into its type and body.
func DecodeFrame(frame []byte) (EngineType, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, ErrMalformedPacket
	}
	t := EngineType(frame[0])
	switch t {
	case EngineOpen, EngineClose, EnginePing, EnginePong, EngineMessage, EngineUpgrade, EngineNoop:
		return t, frame[1:], nil
	}
	return 0, nil, fmt.Errorf("%w: engine type %q", ErrMalformedPacket, frame[0])
}

// DecodePacket parses the body of an Engine.IO message frame.
func DecodePacket(body []byte) (Packet, error) {
	if len(body) == 0 {
		return Packet{}, ErrMalformedPacket
	}

	p := Packet{Type: PacketType(body[0]), Namespace: rootNamespace}
	switch p.Type {
	case PacketConnect, PacketDisconnect, PacketEvent, PacketAck, PacketConnectError:
	default:
		return Packet{}, fmt.Errorf("%w: packet type %q", ErrMalformedPacket, body[0])
	}
	rest := body[1:]

	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:end])
		rest = rest[end+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.ParseInt(string(rest[:digits]), 10, 64)
		if err != nil {
			return Packet{}, fmt.Errorf("%w: ack id: %v", ErrMalformedPacket, err)
		}
		p.ID = &id
		rest = rest[digits:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return Packet{}, fmt.Errorf("%w: invalid json payload", ErrMalformedPacket)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// EventArgs splits an EVENT payload into its name and arguments.
func (p Packet) EventArgs() (string, []json.RawMessage, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(p.Data, &frame); err != nil {
		return "", nil, fmt.Errorf("%w: event payload: %v", ErrMalformedPacket, err)
	}
	if len(frame) == 0 {
		return "", nil, fmt.Errorf("%w: empty event", ErrMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(frame[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", ErrMalformedPacket, err)
	}
	return name, frame[1:], nil
}

// AckArgs returns the arguments of an ACK payload.
func (p Packet) AckArgs() ([]json.RawMessage, error) {
	if len(p.Data) == 0 {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(p.Data, &args); err != nil {
		return nil, fmt.Errorf("%w: ack payload: %v", ErrMalformedPacket, err)
	}
	return args, nil
}
