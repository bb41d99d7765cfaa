// Package migrations creates and upgrades the tables nanofield keeps for
// itself: file metadata, the regeneration log and the schema snapshot.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

const versionsTable = "_nanofield_internal_versions"

// Migration is one embedded script, named "<version>_<name>.sql".
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Run applies every embedded migration newer than the database's version.
func Run(ctx context.Context, db *sql.DB) error {
	list, err := Load(sqlFS, "sql")
	if err != nil {
		return err
	}
	return apply(ctx, db, list)
}

// Load reads the migrations under dir, ordered by version.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var list []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		m, err := parseName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[m.Version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, entry.Name(), m.Version)
		}
		seen[m.Version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(content)
		m.SQL = string(content)
		m.Checksum = hex.EncodeToString(sum[:])
		list = append(list, m)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	return list, nil
}

func parseName(file string) (Migration, error) {
	prefix, name, ok := strings.Cut(strings.TrimSuffix(file, ".sql"), "_")
	version, err := strconv.Atoi(prefix)
	if !ok || err != nil || version <= 0 || name == "" {
		return Migration{}, fmt.Errorf("migration %q must be named <version>_<name>.sql", file)
	}
	return Migration{Version: version, Name: name}, nil
}

func apply(ctx context.Context, db *sql.DB, list []Migration) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+versionsTable+` (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("creating %s: %w", versionsTable, err)
	}

	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range list {
		if sum, ok := applied[m.Version]; ok {
			if sum != m.Checksum {
				return fmt.Errorf("internal migration %03d_%s changed after it was applied", m.Version, m.Name)
			}
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return fmt.Errorf("applying internal migration %03d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().
			Int("version", m.Version).
			Str("name", m.Name).
			Msg("Applied internal migration")
	}
	return nil
}

func appliedChecksums(ctx context.Context, db *sql.DB) (map[int]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM `+versionsTable)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var version int
		var sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

// applyOne runs a script and records it in one transaction. The driver
// executes every statement of a multi-statement string.
func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+versionsTable+` (version, name, checksum) VALUES (?, ?, ?)`,
		m.Version, m.Name, m.Checksum); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}
	return tx.Commit()
}
