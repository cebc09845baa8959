package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no ping)")
	ErrTimeout           = errors.New("operation timeout")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrMaxReconnects     = errors.New("reconnect attempts exhausted")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")
)

// ConnectionError reports a failure to establish or keep a session.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SessionState is the lifecycle state of the managed session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Message is a data message delivered to a subscription handler.
type Message struct {
	Channel    string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Handler consumes messages for one subscription. Calls for a single
// subscription are sequential; different subscriptions run concurrently.
type Handler interface {
	HandleMessage(msg Message)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(Message)

func (f HandlerFunc) HandleMessage(msg Message) {
	f(msg)
}

// Command is a WebSocket command to send to the server.
type Command struct {
	ID     int64       `json:"id"`
	Cmd    string      `json:"cmd"`
	Params interface{} `json:"params"`
}

// ChannelParams are parameters for subscribe and unsubscribe commands.
type ChannelParams struct {
	Channels []string `json:"channels"`
}

// Response is a command response from the server.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "subscribed", "unsubscribed", "error", "ok"
	Msg  json.RawMessage `json:"msg"`
}

// ErrorMsg is the message content for an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DataMessage is a channel data message from the server.
type DataMessage struct {
	Type    string          `json:"type"` // "message"
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL
	APIKey           string        // Sent as X-Api-Key when set
	UserAgent        string        // Sent as User-Agent when set
	HandshakeTimeout time.Duration // Upper bound on the opening handshake
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       4096,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client               ClientConfig
	ConnectTimeout       time.Duration // Deadline for establishing a session
	SubscribeTimeout     time.Duration // Timeout for subscribe commands
	ReconnectBaseDelay   time.Duration // Backoff grows linearly from this, capped at 5x
	MaxReconnectAttempts int           // Attempts before the session is declared failed
	QueueSize            int           // Initial per-subscription queue capacity
	MaxHeld              int           // Messages held while restoring; overflow is dropped
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:               DefaultClientConfig(),
		ConnectTimeout:       10 * time.Second,
		SubscribeTimeout:     10 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 10,
		QueueSize:            64,
		MaxHeld:              4096,
	}
}

// maxBackoffMultiple caps the linear reconnect backoff.
const maxBackoffMultiple = 5

// backoff returns the wait before reconnect attempt n (1-based).
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > maxBackoffMultiple {
		attempt = maxBackoffMultiple
	}
	return base * time.Duration(attempt)
}

// ActiveOrdersChannel returns the feed channel carrying order updates made by
// account in the given base token.
func ActiveOrdersChannel(baseToken, account string) string {
	return "active_orders:" + baseToken + ":" + account
}

// ParseChannel splits a channel name into kind and the remaining parts.
func ParseChannel(channel string) (kind string, parts []string) {
	fields := strings.Split(channel, ":")
	return fields[0], fields[1:]
}
