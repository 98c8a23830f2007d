package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	validRoles    = []string{"customer", "vendor", "delivery", "admin"}
	validBackends = []string{BackendFile, BackendRedis, BackendMemory}
	validLevels   = []string{"debug", "info", "warn", "error"}
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.WSURL == "" {
		return errors.New("api.ws_url is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if err := c.Realtime.validate(); err != nil {
		return err
	}

	switch c.Credentials.Backend {
	case BackendFile:
		if c.Credentials.Path == "" {
			return errors.New("credentials.path is required for the file backend")
		}
	case BackendRedis:
		if c.Credentials.Redis.Addr == "" {
			return errors.New("credentials.redis.addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("credentials.backend must be one of %v, got %q", validBackends, c.Credentials.Backend)
	}

	if c.Database.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}
	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %v, got %q", validLevels, c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (r *RealtimeConfig) validate() error {
	if !slices.Contains(validRoles, r.Role) {
		return fmt.Errorf("realtime.role must be one of %v, got %q", validRoles, r.Role)
	}
	if !slices.Contains(r.Transports, TransportWebSocket) {
		return errors.New("realtime.transports must include websocket")
	}
	for _, t := range r.Transports {
		if t != TransportWebSocket && t != TransportPolling {
			return fmt.Errorf("realtime.transports: unknown transport %q", t)
		}
	}
	if r.MaxReconnectAttempts < 1 {
		return errors.New("realtime.max_reconnect_attempts must be >= 1")
	}
	if r.ReconnectMaxDelay < r.ReconnectBaseDelay {
		return fmt.Errorf("realtime.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			r.ReconnectMaxDelay, r.ReconnectBaseDelay)
	}
	if r.BufferSize < 1 {
		return errors.New("realtime.buffer_size must be >= 1")
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
