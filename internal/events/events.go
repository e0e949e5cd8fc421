package events

import "time"

// ConnectionState describes the push channel lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
)

// ConnectionStatus is a bus event snapshot of the push channel status.
type ConnectionStatus struct {
	State     ConnectionState
	Err       string
	UserID    string
	Target    string
	Timestamp time.Time
}

// PresenceSnapshot carries the complete set of online identity ids as last
// reported by the server. Each snapshot replaces the previous one entirely.
type PresenceSnapshot struct {
	UserIDs    []string
	ReceivedAt time.Time
}
