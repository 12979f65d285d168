package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Channels []string       `yaml:"channels"`
	Identity IdentityConfig `yaml:"identity"`
	Journal  JournalConfig  `yaml:"journal"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// GatewayConfig holds the governance event gateway connection settings.
type GatewayConfig struct {
	URL      string `yaml:"url"`
	Disabled bool   `yaml:"disabled"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	HeartbeatCheckInterval time.Duration `yaml:"heartbeat_check_interval"`
	HeartbeatTimeout       time.Duration `yaml:"heartbeat_timeout"`

	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectDecayFactor float64       `yaml:"reconnect_decay_factor"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`

	QueueMaxSize int `yaml:"queue_max_size"`
}

// IdentityConfig holds the optional member identity used to authenticate the
// session. With no private key path the session connects anonymously.
type IdentityConfig struct {
	MemberAddress  string        `yaml:"member_address"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

// JournalConfig holds the Postgres event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BridgeConfig holds the Redis republisher settings.
type BridgeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
