package config

import (
	"time"

	"github.com/watzon/nanofield/internal/alphabet"
)

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "nanofield.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// NanoID defaults.
	DefaultNanoIDSize  = 5
	DefaultMaxAttempts = 10

	// Schema defaults.
	DefaultSchemaPath = "schema.yaml"

	// Storage defaults.
	DefaultBackendName = "local"
	DefaultStoragePath = "uploads"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Metrics defaults.
	DefaultMetricsAddress = "localhost:9464"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		NanoID: NanoIDConfig{
			Size:               DefaultNanoIDSize,
			AlphabetPredefined: alphabet.Default,
			MaxAttempts:        DefaultMaxAttempts,
		},
		Schema: SchemaConfig{
			Path: DefaultSchemaPath,
		},
		Storage: StorageConfig{
			Backends: map[string]BackendConfig{
				DefaultBackendName: {
					Type:       "filesystem",
					Filesystem: &FilesystemConfig{Path: DefaultStoragePath},
				},
			},
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: DefaultMetricsAddress,
		},
	}
}
