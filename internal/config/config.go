// Package config provides centralized configuration management for the upload service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server      ServerConfig
	Upload      UploadConfig
	Session     SessionConfig
	Storage     StorageConfig
	PostProcess PostProcessConfig
	Redis       RedisConfig
	Database    DatabaseConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request body (default: 5m)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"5m"`

	// WriteTimeout is the maximum duration for writing a response (default: 5m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 5m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"5m"`
}

// UploadConfig holds upload receiving and validation settings.
type UploadConfig struct {
	// FieldName is the multipart field carrying the file (default: file)
	FieldName string `env:"UPLOAD_FIELD_NAME" default:"file"`

	// MaxFileSize is the maximum size of an assembled file (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"100MB" unit:"bytes"`

	// MaxRequestSize bounds a single request body, i.e. one chunk (default: 110MB)
	MaxRequestSize int64 `env:"UPLOAD_MAX_REQUEST_SIZE" default:"110MB" unit:"bytes"`

	// MaxMemory is the multipart parser's in-memory threshold (default: 32MB)
	MaxMemory int64 `env:"UPLOAD_MAX_MEMORY" default:"32MB" unit:"bytes"`

	// MaxConcurrent is the maximum number of parallel finalizations (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long a finished upload waits for a finalize slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// ScratchDir holds session scratch files; empty means the OS temp dir
	ScratchDir string `env:"UPLOAD_SCRATCH_DIR"`

	// AllowedPaths are glob patterns the declared path must match (default: **)
	AllowedPaths []string `env:"UPLOAD_ALLOWED_PATHS" default:"**"`

	// AllowedExtensions restricts client file extensions; empty allows all
	AllowedExtensions []string `env:"UPLOAD_ALLOWED_EXTENSIONS"`

	// AllowedMimeTypes restricts sniffed MIME types; empty allows all
	AllowedMimeTypes []string `env:"UPLOAD_ALLOWED_MIME_TYPES"`

	// MaxImageWidth and MaxImageHeight bound image dimensions; 0 disables the check
	MaxImageWidth  int `env:"UPLOAD_MAX_IMAGE_WIDTH" default:"0"`
	MaxImageHeight int `env:"UPLOAD_MAX_IMAGE_HEIGHT" default:"0"`
}

// SessionConfig holds chunked upload session settings.
type SessionConfig struct {
	// Store selects the session metadata store: memory or redis (default: memory)
	Store string `env:"SESSION_STORE" default:"memory"`

	// IdleTimeout is how long a session may go without chunks before it is swept (default: 1h)
	IdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"1h"`

	// SweepInterval is how often the janitor runs (default: 10m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"10m"`

	// TombstoneTTL is how long completed session ids are remembered (default: 24h)
	TombstoneTTL time.Duration `env:"SESSION_TOMBSTONE_TTL" default:"24h"`
}

// StorageConfig holds destination storage settings.
type StorageConfig struct {
	// Driver selects the backend: local or s3 (default: local)
	Driver string `env:"STORAGE_DRIVER" default:"local"`

	// Disk is the disk identifier reported in lifecycle events (default: public)
	Disk string `env:"STORAGE_DISK" default:"public"`

	// Root is the local disk root directory (default: ./storage)
	Root string `env:"STORAGE_ROOT" default:"./storage"`

	S3Bucket          string `env:"STORAGE_S3_BUCKET"`
	S3Region          string `env:"STORAGE_S3_REGION" envAlt:"AWS_REGION" default:"us-east-1"`
	S3Prefix          string `env:"STORAGE_S3_PREFIX"`
	S3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID" envAlt:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY" envAlt:"AWS_SECRET_ACCESS_KEY"`

	// S3PartSize is the multipart part size for large objects (default: 10MB)
	S3PartSize int64 `env:"STORAGE_S3_PART_SIZE" default:"10MB" unit:"bytes"`
}

// PostProcessConfig holds settings for the external compression service.
type PostProcessConfig struct {
	// Enabled toggles post-processing of finished uploads (default: true)
	Enabled bool `env:"POSTPROCESS_ENABLED" default:"true"`

	// Endpoint is the compression service URL (default: http://api.resmush.it/)
	Endpoint string `env:"POSTPROCESS_ENDPOINT" default:"http://api.resmush.it/"`

	// Quality is sent as the qlty query parameter (default: 80)
	Quality int `env:"POSTPROCESS_QUALITY" default:"80"`

	// ConnectTimeout bounds connection setup (default: 5s)
	ConnectTimeout time.Duration `env:"POSTPROCESS_CONNECT_TIMEOUT" default:"5s"`

	// Timeout bounds the whole submit + download round trip (default: 30s)
	Timeout time.Duration `env:"POSTPROCESS_TIMEOUT" default:"30s"`

	// Retries is the number of retries for the submit request (default: 0)
	Retries int `env:"POSTPROCESS_RETRIES" default:"0"`

	// LogFailures controls whether suppressed failures are logged (default: true)
	LogFailures bool `env:"POSTPROCESS_LOG_FAILURES" default:"true"`

	// MimeTypes lists the MIME types sent for compression
	MimeTypes []string `env:"POSTPROCESS_MIME_TYPES" default:"image/jpeg,image/png,image/gif,image/bmp,image/tiff"`
}

// RedisConfig holds Redis connection settings for the redis session store.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" default:"127.0.0.1:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`
}

// DatabaseConfig holds settings for the optional upload history database.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string; history is disabled when empty
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the limit per IP; chunked clients send many requests (default: 600)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"600"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
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
	return c.Host + ":" + strconv.Itoa(c.Port)
}
