package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrConnectTimeout = errors.New("connect timeout")
	ErrDisconnected   = errors.New("disconnected")
	ErrAlreadyClosed  = errors.New("already closed")
)

// ConnectError is returned to callers whose connection attempt failed before
// the connection opened.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Full WebSocket URL including path and query
	Header           http.Header   // Ambient credentials and User-Agent
	HandshakeTimeout time.Duration // Upper bound for the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Initial inbound buffer capacity
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL               string        // Server base URL (e.g., wss://flows.example.com)
	Path              string        // Stream endpoint path (e.g., /ws)
	Header            http.Header   // Ambient credentials attached to the handshake
	ConnectTimeout    time.Duration // Bound for a single connect attempt
	HeartbeatInterval time.Duration // Ping interval while open
	WriteTimeout      time.Duration // Write deadline for control frames; bounds how long writeLoop stalls
	MaxRetries        int           // Reconnect attempts after an abnormal close
	ReconnectBaseWait time.Duration // Backoff base
	ReconnectMaxWait  time.Duration // Backoff cap
	BufferSize        int           // Initial inbound buffer capacity
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Path:              "/ws",
		ConnectTimeout:    10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      5 * time.Second,
		MaxRetries:        3,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		BufferSize:        256,
	}
}

// State is the lifecycle state of the managed connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnectWaiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnectWaiting:
		return "reconnect_waiting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State     State
	Retries   int
	Identity  string
	Confirmed int
	Pending   int
	Inbound   BufferStats
}
