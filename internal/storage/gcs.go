package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"

	"github.com/watzon/nanofield/internal/config"
)

// GCSBackend stores every nanofield bucket inside one Google Cloud Storage
// bucket under {prefix}{bucket}/{key}. Credentials are resolved through
// Application Default Credentials.
type GCSBackend struct {
	client *gcs.Client
	bucket string
	prefix string
}

func NewGCSBackend(ctx context.Context, cfg config.GCSConfig) (Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs bucket is required", ErrInvalidConfig)
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	return &GCSBackend{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (b *GCSBackend) object(bucket, key string) *gcs.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(objectName(b.prefix, bucket, key))
}

func (b *GCSBackend) Put(ctx context.Context, bucket, key string, r io.Reader, _ int64) error {
	w := b.object(bucket, key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing object to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing object in GCS: %w", err)
	}
	return nil
}

func (b *GCSBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	rc, err := b.object(bucket, key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading object from GCS: %w", err)
	}
	return rc, nil
}

func (b *GCSBackend) Delete(ctx context.Context, bucket, key string) error {
	err := b.object(bucket, key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("deleting object from GCS: %w", err)
	}
	return nil
}

func (b *GCSBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := b.object(bucket, key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading object attributes from GCS: %w", err)
	}
	return true, nil
}

func objectName(prefix, bucket, key string) string {
	return prefix + bucket + "/" + key
}
