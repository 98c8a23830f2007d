package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "http://localhost:5000"
	DefaultWSURL                = "ws://localhost:5000/realtime"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultRetryBackoff         = 1 * time.Second
	DefaultRole                 = "customer"
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultConnectTimeout       = 10 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultPingInterval         = 25 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultRealtimeBuffer       = 1000
	DefaultCredentialsBackend   = BackendFile
	DefaultCredentialsPath      = "ordersync-credentials.json"
	DefaultRedisKeyPrefix       = "ordersync:credentials:"
	DefaultPollInterval         = 30 * time.Second
	DefaultPollConcurrency      = 4
	DefaultPollTimeout          = 10 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Realtime defaults
	r := &c.Realtime
	if r.Role == "" {
		r.Role = DefaultRole
	}
	if len(r.Transports) == 0 {
		r.Transports = []string{TransportWebSocket, TransportPolling}
	}
	if r.ReconnectBaseDelay == 0 {
		r.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if r.ReconnectMaxDelay == 0 {
		r.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if r.MaxReconnectAttempts == 0 {
		r.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if r.ConnectTimeout == 0 {
		r.ConnectTimeout = DefaultConnectTimeout
	}
	if r.HandshakeTimeout == 0 {
		r.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if r.PingInterval == 0 {
		r.PingInterval = DefaultPingInterval
	}
	if r.PingTimeout == 0 {
		r.PingTimeout = DefaultPingTimeout
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = DefaultWriteTimeout
	}
	if r.BufferSize == 0 {
		r.BufferSize = DefaultRealtimeBuffer
	}

	// Credentials defaults
	if c.Credentials.Backend == "" {
		c.Credentials.Backend = DefaultCredentialsBackend
	}
	if c.Credentials.Backend == BackendFile && c.Credentials.Path == "" {
		c.Credentials.Path = DefaultCredentialsPath
	}
	if c.Credentials.Redis.KeyPrefix == "" {
		c.Credentials.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Credentials.Redis.Device == "" {
		c.Credentials.Redis.Device = c.Instance.ID
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Database defaults (only when configured)
	if c.Database.Enabled() {
		applyDBDefaults(&c.Database.Postgres)
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
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
