package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/watzon/nanofield/internal/database"
)

const filesTable = "_nanofield_files"

// File is the metadata kept for a stored object.
type File struct {
	ID       string            `json:"id" yaml:"id"`
	Bucket   string            `json:"bucket" yaml:"bucket"`
	Name     string            `json:"name" yaml:"name"`
	Path     string            `json:"path" yaml:"path"`
	MimeType string            `json:"mime_type" yaml:"mime_type"`
	Size     int64             `json:"size" yaml:"size"`
	Checksum string            `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store handles database operations for file metadata.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// fileColumns is the scan order expected by scanFile.
var fileColumns = []string{"id", "bucket", "name", "path", "mime_type", "size", "checksum", "metadata", "created_at", "updated_at"}

// Create inserts a new file metadata record.
func (s *Store) Create(ctx context.Context, file *File) error {
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	if file.UpdatedAt.IsZero() {
		file.UpdatedAt = file.CreatedAt
	}

	var metadataJSON []byte
	if file.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(file.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	query, args := database.NewInsert(filesTable).
		Set("id", file.ID).
		Set("bucket", file.Bucket).
		Set("name", file.Name).
		Set("path", file.Path).
		Set("mime_type", file.MimeType).
		Set("size", file.Size).
		Set("checksum", nullString(file.Checksum)).
		Set("metadata", nullString(string(metadataJSON))).
		Set("created_at", file.CreatedAt.UTC().Format(time.RFC3339)).
		Set("updated_at", file.UpdatedAt.UTC().Format(time.RFC3339)).
		Build()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting file metadata: %w", database.ClassifyError(err))
	}
	return nil
}

// Get retrieves a file metadata record by ID.
func (s *Store) Get(ctx context.Context, bucket, fileID string) (*File, error) {
	query, args := database.NewQuery(filesTable).
		Columns(fileColumns...).
		Where("id", fileID).
		Where("bucket", bucket).
		Build()
	row := s.db.QueryRowContext(ctx, query, args...)

	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting file metadata: %w", err)
	}
	return file, nil
}

// List returns a bucket's files, newest first.
func (s *Store) List(ctx context.Context, bucket string, offset, limit int) ([]*File, error) {
	query, args := database.NewQuery(filesTable).
		Columns(fileColumns...).
		Where("bucket", bucket).
		Sort("created_at", database.SortDesc).
		Sort("rowid", database.SortDesc).
		Limit(limit).
		Offset(offset).
		Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying file metadata: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file row: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file rows: %w", err)
	}
	return files, nil
}

// Delete removes a file metadata record.
func (s *Store) Delete(ctx context.Context, bucket, fileID string) error {
	query, args := database.NewDelete(filesTable).Where("id", fileID).Where("bucket", bucket).Build()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting file metadata: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IDExists reports whether any bucket holds a file with this ID.
func (s *Store) IDExists(ctx context.Context, id string) (bool, error) {
	return database.Exists(ctx, s.db, database.NewQuery(filesTable).Where("id", id))
}

// PathExists reports whether a path is already recorded in a bucket.
func (s *Store) PathExists(ctx context.Context, bucket, path string) (bool, error) {
	return database.Exists(ctx, s.db, database.NewQuery(filesTable).Where("bucket", bucket).Where("path", path))
}

// TotalSize sums the sizes of every file in a bucket.
func (s *Store) TotalSize(ctx context.Context, bucket string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM `+filesTable+` WHERE bucket = ?`, bucket).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing bucket size: %w", err)
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*File, error) {
	var file File
	var checksum, metadataJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&file.ID,
		&file.Bucket,
		&file.Name,
		&file.Path,
		&file.MimeType,
		&file.Size,
		&checksum,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	file.Checksum = checksum.String
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &file.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}

	if file.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if file.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &file, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
