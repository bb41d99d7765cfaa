package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/watzon/nanofield/internal/config"
	"github.com/watzon/nanofield/internal/database"
	"github.com/watzon/nanofield/internal/metrics"
	"github.com/watzon/nanofield/internal/nanoid"
	"github.com/watzon/nanofield/internal/schema"
	"github.com/watzon/nanofield/internal/upload"
)

// FileIDSize is the length of generated file identifiers.
const FileIDSize = 21

type Service struct {
	db       *database.DB
	store    *Store
	backends map[string]Backend
	schema   *schema.Schema
	defaults upload.Options
}

// NewService wires the schema's buckets to backends. Project-wide nanoid
// settings from cfg become the upload defaults that each bucket's upload
// block overrides.
func NewService(db *database.DB, backends map[string]Backend, s *schema.Schema, cfg *config.Config) *Service {
	defaults := upload.NewOptions("")
	if cfg != nil {
		defaults.Alphabet = cfg.NanoID.Alphabet
		defaults.AlphabetPredefined = cfg.NanoID.AlphabetPredefined
		if cfg.NanoID.Size > 0 {
			defaults.Size = cfg.NanoID.Size
		}
		if cfg.NanoID.MaxAttempts > 0 {
			defaults.MaxAttempts = cfg.NanoID.MaxAttempts
		}
	}

	return &Service{
		db:       db,
		store:    NewStore(db),
		backends: backends,
		schema:   s,
		defaults: defaults,
	}
}

func (s *Service) resolve(bucket string) (*schema.Bucket, Backend, error) {
	bucketCfg, ok := s.schema.Buckets[bucket]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	backend, ok := s.backends[bucketCfg.Backend]
	if !ok {
		return nil, nil, fmt.Errorf("%w: backend not found: %s", ErrInvalidConfig, bucketCfg.Backend)
	}
	return bucketCfg, backend, nil
}

// Upload checks the file against the bucket's limits, stores it under a
// path generated from a fresh NanoID and records its metadata.
func (s *Service) Upload(ctx context.Context, bucket, filename string, r io.Reader, size int64) (*File, error) {
	file, err := s.upload(ctx, bucket, filename, r, size)

	status := "ok"
	switch {
	case errors.Is(err, ErrRejected):
		status = "rejected"
	case err != nil:
		status = "error"
	}
	metrics.RecordUpload(bucket, status, size)

	return file, err
}

func (s *Service) upload(ctx context.Context, bucket, filename string, r io.Reader, size int64) (*File, error) {
	bucketCfg, backend, err := s.resolve(bucket)
	if err != nil {
		return nil, err
	}

	name := path.Base(upload.StripQuery(filename))

	if bucketCfg.MaxFileSize > 0 && size > bucketCfg.MaxFileSize {
		return nil, fmt.Errorf("%w: file size %d exceeds maximum %d", ErrRejected, size, bucketCfg.MaxFileSize)
	}
	if err := checkName(bucketCfg.AllowedNames, name); err != nil {
		return nil, err
	}
	if bucketCfg.MaxTotalSize > 0 {
		used, err := s.store.TotalSize(ctx, bucket)
		if err != nil {
			return nil, err
		}
		if used+size > bucketCfg.MaxTotalSize {
			return nil, fmt.Errorf("%w: bucket %s would exceed its total size of %d", ErrRejected, bucket, bucketCfg.MaxTotalSize)
		}
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading file header: %w", err)
	}
	head = head[:n]

	mimeType := http.DetectContentType(head)
	if !allowedType(bucketCfg.AllowedTypes, mimeType) {
		return nil, fmt.Errorf("%w: mime type %s not allowed", ErrRejected, mimeType)
	}

	opts := upload.FromConfig(bucketCfg.Upload, s.defaults)
	opts.Exists = func(ctx context.Context, key string) (bool, error) {
		recorded, err := s.store.PathExists(ctx, bucket, key)
		if err != nil || recorded {
			return recorded, err
		}
		return backend.Exists(ctx, bucket, key)
	}
	key, err := upload.UploadTo(opts)(ctx, filename)
	if err != nil {
		return nil, err
	}

	fileID, err := s.newFileID(ctx)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	counter := &countingReader{r: io.MultiReader(bytes.NewReader(head), r)}
	if err := backend.Put(ctx, bucket, key, io.TeeReader(counter, hasher), size); err != nil {
		return nil, fmt.Errorf("storing file: %w", err)
	}

	if bucketCfg.MaxFileSize > 0 && counter.n > bucketCfg.MaxFileSize {
		_ = backend.Delete(ctx, bucket, key)
		return nil, fmt.Errorf("%w: file size %d exceeds maximum %d", ErrRejected, counter.n, bucketCfg.MaxFileSize)
	}

	file := &File{
		ID:       fileID,
		Bucket:   bucket,
		Name:     name,
		Path:     key,
		MimeType: mimeType,
		Size:     counter.n,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}

	if err := s.store.Create(ctx, file); err != nil {
		_ = backend.Delete(ctx, bucket, key)
		return nil, fmt.Errorf("storing file metadata: %w", err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("id", file.ID).
		Str("path", file.Path).
		Int64("size", file.Size).
		Msg("File uploaded")

	return file, nil
}

func (s *Service) newFileID(ctx context.Context) (string, error) {
	gen, err := nanoid.NewGenerator("", "", FileIDSize)
	if err != nil {
		return "", err
	}
	return nanoid.Attempt{
		Gen:         gen,
		MaxAttempts: s.defaults.MaxAttempts,
		Kind:        nanoid.KindUpload,
		Subject:     "file id",
		Exists:      s.store.IDExists,
	}.Run(ctx)
}

func (s *Service) Download(ctx context.Context, bucket, fileID string) (io.ReadCloser, *File, error) {
	_, backend, err := s.resolve(bucket)
	if err != nil {
		return nil, nil, err
	}

	file, err := s.store.Get(ctx, bucket, fileID)
	if err != nil {
		return nil, nil, err
	}

	rc, err := backend.Get(ctx, bucket, file.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieving file: %w", err)
	}

	return rc, file, nil
}

func (s *Service) GetMetadata(ctx context.Context, bucket, fileID string) (*File, error) {
	if _, _, err := s.resolve(bucket); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, bucket, fileID)
}

func (s *Service) Delete(ctx context.Context, bucket, fileID string) error {
	_, backend, err := s.resolve(bucket)
	if err != nil {
		return err
	}

	file, err := s.store.Get(ctx, bucket, fileID)
	if err != nil {
		return err
	}

	if err := backend.Delete(ctx, bucket, file.Path); err != nil {
		return fmt.Errorf("deleting file from backend: %w", err)
	}

	if err := s.store.Delete(ctx, bucket, fileID); err != nil {
		return fmt.Errorf("deleting file metadata: %w", err)
	}

	return nil
}

func (s *Service) List(ctx context.Context, bucket string, offset, limit int) ([]*File, error) {
	if _, ok := s.schema.Buckets[bucket]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}

	return s.store.List(ctx, bucket, offset, limit)
}

func checkName(patterns []string, name string) error {
	if len(patterns) == 0 {
		return nil
	}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: invalid name pattern %q: %v", ErrInvalidConfig, pattern, err)
		}
		if g.Match(name) {
			return nil
		}
	}
	return fmt.Errorf("%w: file name %q not allowed", ErrRejected, name)
}

func allowedType(patterns []string, mimeType string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if matchesMimeType(mimeType, pattern) {
			return true
		}
	}
	return false
}

func matchesMimeType(mimeType, pattern string) bool {
	if pattern == "*/*" || pattern == "*" {
		return true
	}

	baseMimeType := mimeType
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		baseMimeType = strings.TrimSpace(mimeType[:idx])
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(baseMimeType, prefix+"/")
	}

	return baseMimeType == pattern
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
