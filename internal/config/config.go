// Package config provides configuration management for nanofield.
package config

import (
	"time"
)

// Config is the root configuration structure for nanofield.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	NanoID   NanoIDConfig   `mapstructure:"nanoid"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// NanoIDConfig holds project-wide identifier defaults. Field and bucket
// definitions in the schema override them.
type NanoIDConfig struct {
	// Length of generated identifiers
	Size int `mapstructure:"size"`

	// Custom alphabet; takes precedence over AlphabetPredefined
	Alphabet string `mapstructure:"alphabet"`

	// Name of a predefined alphabet (see `nanofield alphabets`)
	AlphabetPredefined string `mapstructure:"alphabet_predefined"`

	// Attempts before giving up on finding an unused identifier
	MaxAttempts int `mapstructure:"max_attempts"`
}

// SchemaConfig points at the schema file.
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig holds file storage backends, keyed by name.
type StorageConfig struct {
	Backends map[string]BackendConfig `mapstructure:"backends"`
}

// BackendConfig configures a single storage backend.
type BackendConfig struct {
	// filesystem, s3, gcs or azure
	Type string `mapstructure:"type"`

	Filesystem *FilesystemConfig `mapstructure:"filesystem"`
	S3         *S3Config         `mapstructure:"s3"`
	GCS        *GCSConfig        `mapstructure:"gcs"`
	Azure      *AzureConfig      `mapstructure:"azure"`
}

type FilesystemConfig struct {
	Path string `mapstructure:"path"`

	// Prefix is prepended to every bucket directory name
	Prefix string `mapstructure:"prefix"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketPrefix    string `mapstructure:"bucket_prefix"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// GCSConfig maps every nanofield bucket onto one upstream GCS bucket.
// Credentials come from Application Default Credentials.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// AzureConfig maps every nanofield bucket onto one blob container.
type AzureConfig struct {
	AccountURL         string `mapstructure:"account_url"`
	Container          string `mapstructure:"container"`
	ConnectionString   string `mapstructure:"connection_string"`
	UseManagedIdentity bool   `mapstructure:"use_managed_identity"`
	Prefix             string `mapstructure:"prefix"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`

	// Output file (empty for stderr)
	Output string `mapstructure:"output"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}
