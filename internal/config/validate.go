package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if !c.Gateway.Disabled {
		if c.Gateway.URL == "" {
			return errors.New("gateway.url is required")
		}
		if c.Gateway.DialTimeout <= 0 {
			return errors.New("gateway.dial_timeout must be positive")
		}
		if c.Gateway.WriteTimeout <= 0 {
			return errors.New("gateway.write_timeout must be positive")
		}
		if c.Gateway.HeartbeatInterval <= 0 {
			return errors.New("gateway.heartbeat_interval must be positive")
		}
		if c.Gateway.HeartbeatCheckInterval <= 0 {
			return errors.New("gateway.heartbeat_check_interval must be positive")
		}
		if c.Gateway.ReconnectDecayFactor < 1 {
			return fmt.Errorf("gateway.reconnect_decay_factor must be >= 1, got %g", c.Gateway.ReconnectDecayFactor)
		}
		if c.Gateway.ReconnectMaxAttempts < 1 {
			return errors.New("gateway.reconnect_max_attempts must be >= 1")
		}
		if c.Gateway.ReconnectBaseDelay <= 0 {
			return errors.New("gateway.reconnect_base_delay must be positive")
		}
		if c.Gateway.ReconnectMaxDelay <= 0 {
			return errors.New("gateway.reconnect_max_delay must be positive")
		}
		if c.Gateway.QueueMaxSize < 1 {
			return errors.New("gateway.queue_max_size must be >= 1")
		}
		if c.Gateway.HeartbeatTimeout <= c.Gateway.HeartbeatCheckInterval {
			return errors.New("gateway.heartbeat_timeout must exceed gateway.heartbeat_check_interval")
		}
	}

	if c.Identity.PrivateKeyPath != "" && c.Identity.MemberAddress == "" {
		return errors.New("identity.member_address is required when identity.private_key_path is set")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.FlushInterval <= 0 {
			return errors.New("journal.flush_interval must be positive")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Bridge.Enabled {
		if c.Bridge.Addr == "" {
			return errors.New("bridge.addr is required")
		}
		if c.Bridge.BufferSize < 1 {
			return errors.New("bridge.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
