package socketio

// Lifecycle events raised locally by the client. Handlers registered with On
// receive them exactly like server events.
const (
	EventConnecting      = "connecting"
	EventConnect         = "connect"
	EventConnectFailed   = "connect_failed"
	EventDisconnect      = "disconnect"
	EventClose           = "close"
	EventReconnecting    = "reconnecting"
	EventReconnect       = "reconnect"
	EventReconnectFailed = "reconnect_failed"
	EventError           = "error"
)
