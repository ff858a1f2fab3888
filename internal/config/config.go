// Package config provides centralized configuration management for the
// service. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upstream UpstreamConfig
	Sync     SyncConfig
	Import   ImportConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UpstreamConfig holds settings for the external mineralogical API.
type UpstreamConfig struct {
	// BaseURL is the upstream API root (default: https://api.mindat.org)
	BaseURL string `env:"UPSTREAM_BASE_URL" default:"https://api.mindat.org"`

	// Token is the upstream API token (required). Its absence is a
	// configuration error surfaced before any proxy call.
	Token string `env:"UPSTREAM_API_TOKEN" required:"true"`

	// Timeout bounds a single upstream request attempt (default: 20s)
	Timeout time.Duration `env:"UPSTREAM_TIMEOUT" default:"20s"`

	// MaxAttempts is the total attempt budget per call, first try included (default: 4)
	MaxAttempts int `env:"UPSTREAM_MAX_ATTEMPTS" default:"4"`

	// RetryBaseDelay is the first backoff delay; it doubles per attempt (default: 500ms)
	RetryBaseDelay time.Duration `env:"UPSTREAM_RETRY_BASE_DELAY" default:"500ms"`

	// CacheTTL is how long successful responses stay cached (default: 5m)
	CacheTTL time.Duration `env:"UPSTREAM_CACHE_TTL" default:"5m"`
}

// SyncConfig holds sync orchestrator settings.
type SyncConfig struct {
	// PageSize is records requested per upstream page (default: 100)
	PageSize int `env:"SYNC_PAGE_SIZE" default:"100"`

	// PageErrorThreshold is consecutive page failures tolerated before a
	// run aborts (default: 10)
	PageErrorThreshold int `env:"SYNC_PAGE_ERROR_THRESHOLD" default:"10"`

	// Timeout bounds one whole sync run (default: 1h)
	Timeout time.Duration `env:"SYNC_TIMEOUT" default:"1h"`
}

// ImportConfig holds bulk file import settings.
type ImportConfig struct {
	// BatchSize is rows per multi-row insert (default: 500)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"500"`

	// MaxFileSize is the maximum allowed upload size in bytes (default: 200MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"209715200"`

	// Timeout bounds one whole import run (default: 30m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"30m"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables API key auth on the HTTP API (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
