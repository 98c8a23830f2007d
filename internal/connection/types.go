package connection

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no ping)")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrAuth              = errors.New("authentication rejected")
	ErrInvalidCredential = errors.New("credential is missing or malformed")
	ErrConnectTimeout    = errors.New("no handshake confirmation before timeout")
	ErrServerDisconnect  = errors.New("server closed the session")
	ErrSuperseded        = errors.New("connection attempt superseded")
)

// Lifecycle events exchanged with the server. Everything else is a data event
// dispatched to listeners.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// HandshakeAuth is the auth payload of the client's connect frame.
type HandshakeAuth struct {
	Token     string `json:"token"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ConnectAck is the data of the server's connect frame.
type ConnectAck struct {
	SID string `json:"sid"`
}

// ConnectErrorMsg is the data of a connect_error frame.
type ConnectErrorMsg struct {
	Message string `json:"message"`
}

// DisconnectMsg is the data of a disconnect frame.
type DisconnectMsg struct {
	Reason string `json:"reason"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://api.example.com/realtime)
	Header           http.Header   // Extra upgrade headers (Authorization)
	HandshakeTimeout time.Duration // Dial + upgrade timeout
	PingInterval     time.Duration // Interval between client pings
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     25 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	WSURL                string        // WebSocket URL
	Role                 string        // Handshake role when the stored user has none
	ReconnectBaseWait    time.Duration // Base wait time for reconnection
	ReconnectMaxWait     time.Duration // Max wait time for reconnection
	MaxReconnectAttempts int           // Consecutive failures before giving up
	ConnectTimeout       time.Duration // Max wait for the server's connect frame
	Client               ClientConfig  // Transport settings (URL and Header are filled per attempt)
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     30 * time.Second,
		MaxReconnectAttempts: 5,
		ConnectTimeout:       10 * time.Second,
		Client:               DefaultClientConfig(),
	}
}

// State is the Connection Manager's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State             State
	ReconnectAttempts int
	GaveUp            bool // retries exhausted, running without realtime
	DroppedEmits      int64
	EventsReceived    int64
	Listeners         int
	ConnectedSince    time.Time
}
