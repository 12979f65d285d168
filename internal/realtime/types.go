package realtime

import (
	"errors"
	"time"

	"github.com/dvote-labs/dvote-stream/internal/wire"
)

var (
	// ErrDisabled reports a lifecycle call on a session whose realtime
	// transport is disabled by configuration.
	ErrDisabled = errors.New("realtime disabled")

	// ErrInvalidState reports a lifecycle call that is not valid from the
	// session's current state.
	ErrInvalidState = errors.New("invalid connection state")

	// ErrStaleConnection reports a connection that stopped answering pings
	// while the transport still looked open.
	ErrStaleConnection = errors.New("stale connection: no pong within timeout")
)

// BroadcastChannel receives application events that arrive without a channel.
const BroadcastChannel = ""

// Handler consumes one validated application event. The payload stays raw;
// the consumer decides what the bytes mean.
type Handler func(msg wire.Message)

// Subscription identifies one registered consumer on one channel. The zero
// value is inert: it comes from a disabled session and unsubscribes nothing.
type Subscription struct {
	Channel    string
	ConsumerID string
}

// Default session tuning.
const (
	DefaultDialTimeout            = 10 * time.Second
	DefaultWriteTimeout           = 5 * time.Second
	DefaultHeartbeatInterval      = 30 * time.Second
	DefaultHeartbeatCheckInterval = 5 * time.Second
	DefaultHeartbeatTimeout       = 45 * time.Second
	DefaultReconnectMaxAttempts   = 10
	DefaultReconnectBaseDelay     = 3 * time.Second
	DefaultReconnectDecayFactor   = 1.5
	DefaultReconnectMaxDelay      = 60 * time.Second
	DefaultQueueMaxSize           = 100
	DefaultReadBufferSize         = 256
	DefaultStateBufferSize        = 16
)

// Config holds session settings. Zero fields take the Default* values, so a
// caller only sets what it wants to override.
type Config struct {
	// URL is the gateway WebSocket endpoint. Leaving it empty disables the
	// session, same as setting Disabled.
	URL string

	// Disabled short-circuits the whole session: Connect and Reconnect
	// return ErrDisabled, Send and Subscribe become no-ops.
	Disabled bool

	// TokenSource, when set, supplies the identity token sent in an
	// authenticate frame immediately after every successful connection.
	// It is invoked once per established connection so short-lived
	// tokens stay fresh across reconnects. The token is opaque here.
	TokenSource func() (string, error)

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// HeartbeatInterval is the ping cadence while connected.
	HeartbeatInterval time.Duration
	// HeartbeatCheckInterval is how often liveness is evaluated.
	HeartbeatCheckInterval time.Duration
	// HeartbeatTimeout is the pong silence that declares the connection dead.
	HeartbeatTimeout time.Duration

	// ReconnectMaxAttempts bounds automatic retries before StateFailed.
	ReconnectMaxAttempts int
	// ReconnectBaseDelay and ReconnectDecayFactor shape the backoff:
	// delay(n) = base * factor^n, capped at ReconnectMaxDelay.
	ReconnectBaseDelay   time.Duration
	ReconnectDecayFactor float64
	ReconnectMaxDelay    time.Duration

	// QueueMaxSize bounds the outbound queue; the oldest entry is evicted
	// when a send arrives at capacity.
	QueueMaxSize int

	// ReadBufferSize is the inbound frame channel depth.
	ReadBufferSize int
	// StateBufferSize is the StateChanges channel depth.
	StateBufferSize int
}

// DefaultConfig returns the baseline tuning for a session.
func DefaultConfig() Config {
	return Config{
		DialTimeout:            DefaultDialTimeout,
		WriteTimeout:           DefaultWriteTimeout,
		HeartbeatInterval:      DefaultHeartbeatInterval,
		HeartbeatCheckInterval: DefaultHeartbeatCheckInterval,
		HeartbeatTimeout:       DefaultHeartbeatTimeout,
		ReconnectMaxAttempts:   DefaultReconnectMaxAttempts,
		ReconnectBaseDelay:     DefaultReconnectBaseDelay,
		ReconnectDecayFactor:   DefaultReconnectDecayFactor,
		ReconnectMaxDelay:      DefaultReconnectMaxDelay,
		QueueMaxSize:           DefaultQueueMaxSize,
		ReadBufferSize:         DefaultReadBufferSize,
		StateBufferSize:        DefaultStateBufferSize,
	}
}

// withDefaults fills zero fields with the Default* values. A config without
// a URL has nowhere to dial, so it is folded into the Disabled flag.
func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.Disabled = true
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatCheckInterval <= 0 {
		c.HeartbeatCheckInterval = DefaultHeartbeatCheckInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectDecayFactor <= 0 {
		c.ReconnectDecayFactor = DefaultReconnectDecayFactor
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.QueueMaxSize <= 0 {
		c.QueueMaxSize = DefaultQueueMaxSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.StateBufferSize <= 0 {
		c.StateBufferSize = DefaultStateBufferSize
	}
	return c
}

// SessionStats is a point-in-time snapshot of session counters.
type SessionStats struct {
	State             ConnectionState
	FramesReceived    int64
	FramesSent        int64
	EventsDispatched  int64
	ParseErrors       int64
	Connects          int64
	HeartbeatTimeouts int64
	HandlerPanics     int64
	QueueDepth        int
	QueueEvictions    int64
	Channels          int
	Subscribers       int
}

// sessionMetrics holds the mutable counters behind Stats. Guarded by the
// session mutex.
type sessionMetrics struct {
	framesReceived    int64
	framesSent        int64
	eventsDispatched  int64
	parseErrors       int64
	connects          int64
	heartbeatTimeouts int64
	handlerPanics     int64
}
