package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/nanofield/internal/config"
	"github.com/watzon/nanofield/internal/database"
	"github.com/watzon/nanofield/internal/metrics"
	"github.com/watzon/nanofield/internal/records"
	"github.com/watzon/nanofield/internal/schema"
	"github.com/watzon/nanofield/internal/storage"
)

// app holds what a command needs once config, schema and database are
// loaded.
type app struct {
	cfg    *config.Config
	schema *schema.Schema
	db     *database.DB

	stopMetrics context.CancelFunc
}

func resolveSchemaPath(explicit string, cfg *config.Config) string {
	if explicit != "" {
		return explicit
	}
	if cfg != nil && cfg.Schema.Path != "" {
		if _, err := os.Stat(cfg.Schema.Path); err == nil {
			return cfg.Schema.Path
		}
	}
	for _, c := range []string{"schema.yaml", "schema.yml"} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// loadSchema parses the schema file with the configured nanoid size as the
// default for fields that do not set one.
func loadSchema(cfg *config.Config) (*schema.Schema, string, error) {
	path := resolveSchemaPath(schemaFile, cfg)
	if path == "" {
		return nil, "", fmt.Errorf("no schema file found (looked for schema.yaml, schema.yml)")
	}
	s, err := schema.ParseFileWithDefaults(path, schema.Defaults{Size: cfg.NanoID.Size})
	if err != nil {
		return nil, path, err
	}
	return s, path, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	s, path, err := loadSchema(cfg)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("schema", path).Int("collections", len(s.Collections)).Msg("Loaded schema")

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{cfg: cfg, schema: s, db: db}
	if cfg.Metrics.Enabled {
		a.startMetrics(ctx)
	}
	return a, nil
}

func (a *app) startMetrics(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.stopMetrics = cancel

	go func() {
		if err := metrics.Serve(ctx, a.cfg.Metrics.Address); err != nil {
			log.Error().Err(err).Msg("Metrics listener stopped")
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			stats := a.db.Stats()
			metrics.UpdateDBStats(stats.OpenConnections, stats.InUse, stats.Idle)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (a *app) recordService(opts ...records.Option) *records.Service {
	opts = append([]records.Option{records.WithMaxAttempts(a.cfg.NanoID.MaxAttempts)}, opts...)
	return records.NewService(a.db, a.schema, opts...)
}

func (a *app) storageService(ctx context.Context) (*storage.Service, error) {
	backends, err := storage.NewBackends(ctx, a.cfg.Storage)
	if err != nil {
		return nil, err
	}
	return storage.NewService(a.db, backends, a.schema, a.cfg), nil
}

func (a *app) Close() {
	if a.stopMetrics != nil {
		a.stopMetrics()
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing database")
	}
}
