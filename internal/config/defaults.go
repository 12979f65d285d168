package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultGatewayURL             = "wss://stream.dvote.io/v1/ws"
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
	DefaultTokenTTL               = 15 * time.Minute
	DefaultDBPort                 = 5432
	DefaultDBSSLMode              = "prefer"
	DefaultMaxConns               = 10
	DefaultMinConns               = 2
	DefaultBatchSize              = 500
	DefaultFlushInterval          = 1 * time.Second
	DefaultBufferSize             = 4096
	DefaultRedisAddr              = "localhost:6379"
	DefaultChannelPrefix          = "dvote.events"
	DefaultMetricsPort            = 9090
	DefaultMetricsPath            = "/metrics"
	DefaultHealthPort             = 8080
)

// DefaultChannels is the platform's standard channel set, subscribed when the
// config lists none.
var DefaultChannels = []string{"proposals", "votes", "members", "treasury"}

func (c *RelayConfig) applyDefaults() {
	// Gateway defaults
	if c.Gateway.URL == "" {
		c.Gateway.URL = DefaultGatewayURL
	}
	if c.Gateway.DialTimeout == 0 {
		c.Gateway.DialTimeout = DefaultDialTimeout
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = DefaultWriteTimeout
	}
	if c.Gateway.HeartbeatInterval == 0 {
		c.Gateway.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Gateway.HeartbeatCheckInterval == 0 {
		c.Gateway.HeartbeatCheckInterval = DefaultHeartbeatCheckInterval
	}
	if c.Gateway.HeartbeatTimeout == 0 {
		c.Gateway.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Gateway.ReconnectMaxAttempts == 0 {
		c.Gateway.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.Gateway.ReconnectBaseDelay == 0 {
		c.Gateway.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Gateway.ReconnectDecayFactor == 0 {
		c.Gateway.ReconnectDecayFactor = DefaultReconnectDecayFactor
	}
	if c.Gateway.ReconnectMaxDelay == 0 {
		c.Gateway.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Gateway.QueueMaxSize == 0 {
		c.Gateway.QueueMaxSize = DefaultQueueMaxSize
	}

	if len(c.Channels) == 0 {
		c.Channels = append([]string(nil), DefaultChannels...)
	}

	// Identity defaults
	if c.Identity.TokenTTL == 0 {
		c.Identity.TokenTTL = DefaultTokenTTL
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Bridge defaults
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = DefaultRedisAddr
	}
	if c.Bridge.ChannelPrefix == "" {
		c.Bridge.ChannelPrefix = DefaultChannelPrefix
	}
	if c.Bridge.BufferSize == 0 {
		c.Bridge.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
