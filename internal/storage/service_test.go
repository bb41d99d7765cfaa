package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/watzon/nanofield/internal/config"
	"github.com/watzon/nanofield/internal/database"
	"github.com/watzon/nanofield/internal/nanoid"
	"github.com/watzon/nanofield/internal/schema"
)

func testService(t *testing.T) (*Service, Backend) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &config.DatabaseConfig{
		Path:         dbPath,
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("failed to close database: %v", closeErr)
		}
	})

	storagePath := filepath.Join(tmpDir, "storage")
	backend := NewFilesystemBackend(storagePath)

	backends := map[string]Backend{
		"local": backend,
	}

	s := &schema.Schema{
		Buckets: map[string]*schema.Bucket{
			"uploads": {
				Name:        "uploads",
				Backend:     "local",
				MaxFileSize: 10 * 1024 * 1024,
				AllowedTypes: []string{
					"text/plain",
					"image/*",
				},
			},
			"documents": {
				Name:    "documents",
				Backend: "local",
			},
			"avatars": {
				Name:         "avatars",
				Backend:      "local",
				AllowedNames: []string{"*.png", "*.jpg"},
				MaxTotalSize: 20,
				Upload: &schema.UploadConfig{
					Path:               "faces",
					AlphabetPredefined: "numbers",
					Size:               6,
				},
			},
			"reports": {
				Name:    "reports",
				Backend: "local",
				Upload: &schema.UploadConfig{
					Path:                     "yearly",
					PreserveOriginalFilename: true,
				},
			},
		},
	}

	appCfg := &config.Config{}

	service := NewService(db, backends, s, appCfg)

	return service, backend
}

func TestServiceUpload(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	content := []byte("Hello, World!")
	r := bytes.NewReader(content)

	file, err := service.Upload(ctx, "uploads", "test.txt", r, int64(len(content)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if file.ID == "" {
		t.Error("File ID not set")
	}
	if file.Bucket != "uploads" {
		t.Errorf("Bucket = %s, want uploads", file.Bucket)
	}
	if file.Name != "test.txt" {
		t.Errorf("Name = %s, want test.txt", file.Name)
	}
	if file.MimeType != "text/plain; charset=utf-8" {
		t.Errorf("MimeType = %s, want text/plain; charset=utf-8", file.MimeType)
	}
	if file.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", file.Size, len(content))
	}
	if file.Checksum != "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f" {
		t.Errorf("Checksum = %s, want sha256 of content", file.Checksum)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9]{5}\.txt$`).MatchString(file.Path) {
		t.Errorf("Path = %s, want <nanoid>.txt", file.Path)
	}
	if len(file.ID) != FileIDSize {
		t.Errorf("ID length = %d, want %d", len(file.ID), FileIDSize)
	}
}

func TestServiceUploadPathOptions(t *testing.T) {
	service, backend := testService(t)
	ctx := context.Background()

	png := []byte("\x89PNG\r\n\x1a\n")
	file, err := service.Upload(ctx, "avatars", "Me.PNG?w=200", bytes.NewReader(png), int64(len(png)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !regexp.MustCompile(`^faces/[0-9]{6}\.png$`).MatchString(file.Path) {
		t.Errorf("Path = %s, want faces/<6 digits>.png", file.Path)
	}
	if file.Name != "Me.PNG" {
		t.Errorf("Name = %s, want query string stripped", file.Name)
	}
	if ok, _ := backend.Exists(ctx, "avatars", file.Path); !ok {
		t.Error("object not stored at generated path")
	}

	content := []byte("quarterly numbers")
	file, err = service.Upload(ctx, "reports", "q1 results.txt", bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !regexp.MustCompile(`^yearly/[A-Za-z0-9]+/q1_results\.txt$`).MatchString(file.Path) {
		t.Errorf("Path = %s, want yearly/<nanoid>/q1_results.txt", file.Path)
	}
}

func TestServiceUploadRejections(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	png := []byte("\x89PNG\r\n\x1a\n")
	_, err := service.Upload(ctx, "avatars", "me.gif", bytes.NewReader(png), int64(len(png)))
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected name pattern rejection, got %v", err)
	}

	if _, err := service.Upload(ctx, "avatars", "a.png", bytes.NewReader(png), int64(len(png))); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, err := service.Upload(ctx, "avatars", "b.png", bytes.NewReader(png), int64(len(png))); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	_, err = service.Upload(ctx, "avatars", "c.png", bytes.NewReader(png), int64(len(png)))
	if !errors.Is(err, ErrRejected) || !strings.Contains(err.Error(), "total size") {
		t.Errorf("expected total size rejection, got %v", err)
	}
}

func TestServiceUploadRetriesTakenPath(t *testing.T) {
	db := testDB(t)
	backend := newMockBackend()
	s := &schema.Schema{
		Buckets: map[string]*schema.Bucket{
			"tiny": {
				Name:    "tiny",
				Backend: "mem",
				Upload:  &schema.UploadConfig{Path: "t", Alphabet: "ab", Size: 1},
			},
		},
	}
	service := NewService(db, map[string]Backend{"mem": backend}, s, &config.Config{
		NanoID: config.NanoIDConfig{MaxAttempts: 64},
	})
	ctx := context.Background()

	backend.files["tiny:t/a.txt"] = []byte("already here")

	content := []byte("new")
	file, err := service.Upload(ctx, "tiny", "n.txt", bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if file.Path != "t/b.txt" {
		t.Errorf("Path = %s, want the only free path t/b.txt", file.Path)
	}

	_, err = service.Upload(ctx, "tiny", "m.txt", bytes.NewReader(content), int64(len(content)))
	var exhausted *nanoid.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 64 {
		t.Errorf("Attempts = %d, want 64", exhausted.Attempts)
	}
}

func TestServiceUploadSizeLimit(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	content := make([]byte, 11*1024*1024)
	r := bytes.NewReader(content)

	_, err := service.Upload(ctx, "uploads", "large.bin", r, int64(len(content)))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Upload error = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("Error message = %v, want size limit error", err)
	}
}

func TestServiceUploadMimeTypeValidation(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	content := []byte("PK\x03\x04")
	r := bytes.NewReader(content)

	_, err := service.Upload(ctx, "uploads", "archive.zip", r, int64(len(content)))
	if err == nil {
		t.Fatal("Upload should fail for disallowed MIME type")
	}
	if !strings.Contains(err.Error(), "not allowed") {
		t.Errorf("Error message = %v, want MIME type error", err)
	}
}

func TestServiceUploadMimeTypeWildcard(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	content := []byte("\x89PNG\r\n\x1a\n")
	r := bytes.NewReader(content)

	file, err := service.Upload(ctx, "uploads", "image.png", r, int64(len(content)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if !strings.HasPrefix(file.MimeType, "image/") {
		t.Errorf("MimeType = %s, want image/*", file.MimeType)
	}
}

func TestServiceUploadNoRestrictions(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	content := []byte("any content")
	r := bytes.NewReader(content)

	file, err := service.Upload(ctx, "documents", "any.bin", r, int64(len(content)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if file.Bucket != "documents" {
		t.Errorf("Bucket = %s, want documents", file.Bucket)
	}
}

func TestServiceDownload(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	content := []byte("Hello, World!")
	r := bytes.NewReader(content)

	file, err := service.Upload(ctx, "uploads", "test.txt", r, int64(len(content)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	rc, metadata, err := service.Download(ctx, "uploads", file.ID)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer rc.Close()

	if metadata.ID != file.ID {
		t.Errorf("Metadata ID = %s, want %s", metadata.ID, file.ID)
	}

	downloaded, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Reading downloaded content failed: %v", err)
	}

	if !bytes.Equal(downloaded, content) {
		t.Errorf("Downloaded content = %q, want %q", downloaded, content)
	}
}

func TestServiceGetMetadata(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	content := []byte("Hello, World!")
	r := bytes.NewReader(content)

	file, err := service.Upload(ctx, "uploads", "test.txt", r, int64(len(content)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	metadata, err := service.GetMetadata(ctx, "uploads", file.ID)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}

	if metadata.ID != file.ID {
		t.Errorf("ID = %s, want %s", metadata.ID, file.ID)
	}
	if metadata.Name != file.Name {
		t.Errorf("Name = %s, want %s", metadata.Name, file.Name)
	}
	if metadata.Size != file.Size {
		t.Errorf("Size = %d, want %d", metadata.Size, file.Size)
	}
}

func TestServiceDelete(t *testing.T) {
	service, backend := testService(t)
	ctx := context.Background()

	content := []byte("Hello, World!")
	r := bytes.NewReader(content)

	file, err := service.Upload(ctx, "uploads", "test.txt", r, int64(len(content)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	err = service.Delete(ctx, "uploads", file.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err = service.GetMetadata(ctx, "uploads", file.ID)
	if err != ErrNotFound {
		t.Errorf("GetMetadata after Delete error = %v, want ErrNotFound", err)
	}

	exists, err := backend.Exists(ctx, "uploads", file.Path)
	if err != nil {
		t.Fatalf("Exists check failed: %v", err)
	}
	if exists {
		t.Error("File still exists in backend after Delete")
	}
}

func TestServiceList(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		content := []byte("content")
		r := bytes.NewReader(content)
		filename := string(rune('a'+i)) + ".txt"
		_, err := service.Upload(ctx, "uploads", filename, r, int64(len(content)))
		if err != nil {
			t.Fatalf("Upload %d failed: %v", i, err)
		}
	}

	files, err := service.List(ctx, "uploads", 0, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(files) != 5 {
		t.Errorf("List returned %d files, want 5", len(files))
	}
}

func TestServiceListPagination(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		content := []byte("content")
		r := bytes.NewReader(content)
		filename := string(rune('a'+i)) + ".txt"
		_, err := service.Upload(ctx, "uploads", filename, r, int64(len(content)))
		if err != nil {
			t.Fatalf("Upload %d failed: %v", i, err)
		}
	}

	files, err := service.List(ctx, "uploads", 2, 3)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(files) != 3 {
		t.Errorf("List returned %d files, want 3", len(files))
	}
}

func TestServiceBucketNotFound(t *testing.T) {
	service, _ := testService(t)
	ctx := context.Background()

	content := []byte("content")
	r := bytes.NewReader(content)

	_, err := service.Upload(ctx, "nonexistent", "file.txt", r, int64(len(content)))
	if !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("Upload error = %v, want ErrBucketNotFound", err)
	}

	if _, err := service.List(ctx, "nonexistent", 0, 10); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("List error = %v, want ErrBucketNotFound", err)
	}
}
