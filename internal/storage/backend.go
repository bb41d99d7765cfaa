package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/watzon/nanofield/internal/config"
)

var (
	ErrNotFound       = errors.New("file not found")
	ErrInvalidConfig  = errors.New("invalid backend configuration")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrRejected       = errors.New("upload rejected")
)

// Backend stores raw object bytes. Keys are slash separated paths inside a
// bucket.
type Backend interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// NewBackend builds the backend described by cfg.
func NewBackend(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.Filesystem == nil || cfg.Filesystem.Path == "" {
			return nil, fmt.Errorf("%w: filesystem path is required", ErrInvalidConfig)
		}
		return NewFilesystemBackendWithPrefix(cfg.Filesystem.Path, cfg.Filesystem.Prefix), nil
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("%w: s3 settings are required", ErrInvalidConfig)
		}
		return NewS3Backend(ctx, *cfg.S3)
	case "gcs":
		if cfg.GCS == nil {
			return nil, fmt.Errorf("%w: gcs settings are required", ErrInvalidConfig)
		}
		return NewGCSBackend(ctx, *cfg.GCS)
	case "azure":
		if cfg.Azure == nil {
			return nil, fmt.Errorf("%w: azure settings are required", ErrInvalidConfig)
		}
		return NewAzureBackend(*cfg.Azure)
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, cfg.Type)
	}
}

// NewBackends builds every configured backend, keyed by name.
func NewBackends(ctx context.Context, cfg config.StorageConfig) (map[string]Backend, error) {
	names := make([]string, 0, len(cfg.Backends))
	for name := range cfg.Backends {
		names = append(names, name)
	}
	sort.Strings(names)

	backends := make(map[string]Backend, len(names))
	for _, name := range names {
		b, err := NewBackend(ctx, cfg.Backends[name])
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", name, err)
		}
		backends[name] = b
	}
	return backends, nil
}
