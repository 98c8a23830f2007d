package config

import "time"

// Config is the root configuration for a sync client instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	API         APIConfig         `yaml:"api"`
	Realtime    RealtimeConfig    `yaml:"realtime"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Cache       CacheConfig       `yaml:"cache"`
	Poller      PollerConfig      `yaml:"poller"`
	Database    DatabaseConfig    `yaml:"database"`
	Writers     WritersConfig     `yaml:"writers"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	WSURL        string        `yaml:"ws_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Transport names accepted in realtime.transports.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// RealtimeConfig holds the single Connection Manager's settings.
type RealtimeConfig struct {
	Role                 string        `yaml:"role"`
	Transports           []string      `yaml:"transports"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// PollingFallback reports whether the degraded-mode poller is enabled.
func (r RealtimeConfig) PollingFallback() bool {
	for _, t := range r.Transports {
		if t == TransportPolling {
			return true
		}
	}
	return false
}

// Credential store backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// CredentialsConfig selects where the auth token and user are stored.
type CredentialsConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis credential store connection.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	Device    string `yaml:"device"`
}

// CacheConfig holds read-through cache settings.
type CacheConfig struct {
	Vendors        []string `yaml:"vendors"`         // menus and orders loaded at startup
	CoalesceMisses *bool    `yaml:"coalesce_misses"` // default true
	WarmCatalog    bool     `yaml:"warm_catalog"`    // load the full catalog at startup
}

// Coalesce returns the effective coalesce_misses setting.
func (c CacheConfig) Coalesce() bool {
	return c.CoalesceMisses == nil || *c.CoalesceMisses
}

// PollerConfig holds degraded-mode poller settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DatabaseConfig holds the optional Postgres used by the location writer.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Postgres.Host != ""
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

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds slog handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
