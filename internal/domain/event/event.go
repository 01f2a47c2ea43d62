package event

// Name identifies a lifecycle event raised by the socket transport.
type Name string

// [TRANSPORT_LIFECYCLE]
const (
	Connect         Name = "connect"
	Disconnect      Name = "disconnect"
	SessionExpired  Name = "sessionExpired"
	Reconnect       Name = "reconnect"
	Reconnecting    Name = "reconnecting"
	Connecting      Name = "connecting"
	ConnectFailed   Name = "connect_failed"
	ReconnectFailed Name = "reconnect_failed"
	Close           Name = "close"
	Error           Name = "error"
)

// Observed lists lifecycle events that are logged without touching connection state.
var Observed = []Name{
	Reconnect,
	Reconnecting,
	Connecting,
	ConnectFailed,
	ReconnectFailed,
	Close,
}

func (n Name) String() string { return string(n) }

// Outbound request events emitted over the socket.
const (
	EmitSearch = "search"
	EmitRandom = "random"
)
