package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrCleanClose      = errors.New("server closed connection")
)

// TokenSource optionally supplies a bearer credential at connection time.
// Absence is tolerated: ok=false means the connection proceeds
// unauthenticated.
type TokenSource interface {
	Token() (token string, ok bool)
}

// TokenSourceFunc is a function adapter for TokenSource.
type TokenSourceFunc func() (string, bool)

func (f TokenSourceFunc) Token() (string, bool) { return f() }

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Status is the lifecycle state of the logical connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// ClientConfig configures a single WebSocket transport handle.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://sync.peertrade.example/ws)
	PingTimeout  time.Duration // Max time without ping/pong before the handle is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL             string
	ReconnectBase   time.Duration // Base delay for reconnect backoff
	ReconnectGrowth float64       // Backoff growth factor per attempt
	ReconnectMax    time.Duration // Delay cap
	MaxAttempts     int           // Consecutive attempts before Failed
	DisconnectGrace time.Duration // Auto-reconnect suppression after Disconnect
	PingTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBase:   1 * time.Second,
		ReconnectGrowth: 1.5,
		ReconnectMax:    10 * time.Second,
		MaxAttempts:     10,
		DisconnectGrace: 1 * time.Second,
		PingTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		BufferSize:      1000,
	}
}

// ManagerStats provides a snapshot of the manager's state.
type ManagerStats struct {
	Status    Status
	Attempt   int
	LastError string
	Received  int64
	Sent      int64
}
