package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBackend stores objects on local disk as
// {basePath}/{prefix}{bucket}/{key}.
type FilesystemBackend struct {
	basePath string
	prefix   string
}

func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return NewFilesystemBackendWithPrefix(basePath, "")
}

// NewFilesystemBackendWithPrefix namespaces every bucket directory with
// prefix, so several projects can share one base path.
func NewFilesystemBackendWithPrefix(basePath, prefix string) *FilesystemBackend {
	return &FilesystemBackend{
		basePath: filepath.Clean(basePath),
		prefix:   prefix,
	}
}

// resolve maps bucket and key to a file below the bucket directory. Keys
// use forward slashes; anything that could leave the bucket directory is
// rejected.
func (f *FilesystemBackend) resolve(bucket, key string) (string, error) {
	switch {
	case bucket == "" || key == "":
		return "", fmt.Errorf("invalid path: bucket and key are required")
	case strings.ContainsRune(bucket+key, 0):
		return "", fmt.Errorf("invalid path: null byte not allowed")
	case strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == "..":
		return "", fmt.Errorf("invalid path: bucket %q must be a single directory name", bucket)
	case strings.HasPrefix(key, "/") || strings.Contains(key, `\`) || filepath.IsAbs(key) || filepath.VolumeName(key) != "" || (len(key) >= 2 && key[1] == ':'):
		return "", fmt.Errorf("invalid path: key %q must be relative", key)
	}

	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid path: key %q contains path traversal", key)
		}
	}

	dir := filepath.Join(f.basePath, f.prefix+bucket)
	full := filepath.Join(dir, filepath.FromSlash(key))
	if !strings.HasPrefix(full, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: key %q escapes bucket directory", key)
	}
	return full, nil
}

// Put writes r to a temporary file next to the target and renames it into
// place once synced. Readers never observe a partial object and a failed
// write leaves nothing behind.
func (f *FilesystemBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	path, err := f.resolve(bucket, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	// CreateTemp opens with 0600.
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("moving file into place: %w", err)
	}
	committed = true
	return nil
}

// Get opens the object for reading. The caller closes it.
func (f *FilesystemBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	path, err := f.resolve(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (f *FilesystemBackend) Delete(ctx context.Context, bucket, key string) error {
	path, err := f.resolve(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

func (f *FilesystemBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	path, err := f.resolve(bucket, key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking file: %w", err)
	}
	return !info.IsDir(), nil
}
