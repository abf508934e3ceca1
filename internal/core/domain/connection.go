package domain

import "time"

type ConnectionID string

type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateAuthenticated
	StateJoined
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionInfo is a read-only snapshot of a live connection.
type ConnectionInfo struct {
	ID       ConnectionID
	UserID   UserID
	State    ConnectionState
	Rooms    []GroupID
	OpenedAt time.Time
}

// Close reasons recorded when a connection ends.
const (
	CloseClientGone    = "client_gone"
	CloseSlowConsumer  = "slow_consumer"
	CloseUserDeleted   = "user_deleted"
	CloseShutdown      = "shutdown"
	CloseProtocolError = "protocol_error"
)
