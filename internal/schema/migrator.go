package schema

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/watzon/nanofield/internal/database"
	"github.com/watzon/nanofield/internal/nanoid"
)

// ErrUnsafeChanges is returned when a migration contains changes that need
// manual intervention.
var ErrUnsafeChanges = errors.New("schema contains changes that require manual migration")

// Migrator brings the database in line with a schema. The last applied
// schema is kept in _nanofield_schema and diffed against the new one.
type Migrator struct {
	db          *database.DB
	maxAttempts int
}

func NewMigrator(db *database.DB, maxAttempts int) *Migrator {
	if maxAttempts < 1 {
		maxAttempts = nanoid.DefaultMaxAttempts
	}
	return &Migrator{db: db, maxAttempts: maxAttempts}
}

// Applied returns the last applied schema, or nil if none was applied yet.
func (m *Migrator) Applied(ctx context.Context) (*Schema, error) {
	var content string
	err := m.db.QueryRowContext(ctx, `SELECT content FROM _nanofield_schema WHERE id = 1`).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading applied schema: %w", err)
	}

	s, err := Parse([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("parsing applied schema: %w", err)
	}
	return s, nil
}

// Plan returns the changes needed to move from the applied schema to s.
func (m *Migrator) Plan(ctx context.Context, s *Schema) (Changes, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	if applied == nil {
		applied = &Schema{Collections: map[string]*Collection{}}
	}
	return Diff(applied, s), nil
}

// Migrate plans and applies the changes to s. Nothing is applied when any
// change is unsafe.
func (m *Migrator) Migrate(ctx context.Context, s *Schema) (Changes, error) {
	changes, err := m.Plan(ctx, s)
	if err != nil {
		return nil, err
	}
	if err := m.Apply(ctx, s, changes); err != nil {
		return changes, err
	}
	return changes, nil
}

// Apply executes changes in a single transaction and records s as the
// applied schema.
func (m *Migrator) Apply(ctx context.Context, s *Schema, changes Changes) error {
	if unsafe := changes.Unsafe(); len(unsafe) > 0 {
		descriptions := make([]string, len(unsafe))
		for i, c := range unsafe {
			descriptions[i] = c.String()
		}
		return fmt.Errorf("%w: %s", ErrUnsafeChanges, strings.Join(descriptions, "; "))
	}

	content, err := Marshal(s)
	if err != nil {
		return err
	}

	return m.db.Transaction(ctx, func(tx *database.Tx) error {
		if err := m.createCollections(ctx, tx, s, changes); err != nil {
			return err
		}

		for _, change := range changes {
			if change.Type == ChangeAddCollection {
				continue
			}
			if err := m.applyChange(ctx, tx, s, change); err != nil {
				return fmt.Errorf("applying %s: %w", change, err)
			}
			log.Debug().Str("change", change.String()).Msg("Applied schema change")
		}

		sum := sha256.Sum256(content)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO _nanofield_schema (id, content, checksum, updated_at)
			VALUES (1, ?, ?, datetime('now'))
			ON CONFLICT(id) DO UPDATE SET
				content = excluded.content,
				checksum = excluded.checksum,
				updated_at = excluded.updated_at
		`, string(content), hex.EncodeToString(sum[:]))
		if err != nil {
			return fmt.Errorf("recording applied schema: %w", err)
		}
		return nil
	})
}

func (m *Migrator) createCollections(ctx context.Context, tx *database.Tx, s *Schema, changes Changes) error {
	added := make(map[string]bool)
	for _, c := range changes {
		if c.Type == ChangeAddCollection {
			added[c.Collection] = true
		}
	}
	if len(added) == 0 {
		return nil
	}

	gen := NewSQLGenerator(s)
	for _, col := range gen.creationOrder() {
		if !added[col.Name] {
			continue
		}
		for _, stmt := range gen.GenerateCollection(col) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("executing %q: %w", truncate(stmt, 100), err)
			}
		}
		log.Debug().Str("collection", col.Name).Msg("Created collection")
	}
	return nil
}

func (m *Migrator) applyChange(ctx context.Context, tx *database.Tx, s *Schema, change *Change) error {
	gen := NewSQLGenerator(s)

	switch change.Type {
	case ChangeAddField:
		f := change.NewField
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", change.Collection, gen.AddColumnDef(f))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", truncate(stmt, 100), err)
		}
		if f.IsNanoID() {
			if err := m.backfill(ctx, tx, change.Collection, f); err != nil {
				return err
			}
		}
		if f.Unique {
			if _, err := tx.ExecContext(ctx, UniqueIndex(change.Collection, f).SQL(change.Collection)); err != nil {
				return fmt.Errorf("adding unique index: %w", err)
			}
		}
		return nil

	case ChangeAddIndex:
		_, err := tx.ExecContext(ctx, change.Index.SQL(change.Collection))
		return err

	case ChangeDropIndex:
		_, err := tx.ExecContext(ctx, gen.GenerateDropIndex(change.Index.Name))
		return err

	case ChangeModifyNanoID:
		// Generation options live in the schema only.
		return nil

	default:
		return fmt.Errorf("change type %s requires manual migration", change.Type)
	}
}

// backfill assigns generated values to rows that predate a nanoid column.
func (m *Migrator) backfill(ctx context.Context, tx *database.Tx, collection string, f *Field) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT rowid FROM %s WHERE %s IS NULL", collection, f.Name))
	if err != nil {
		return fmt.Errorf("listing rows to backfill: %w", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		rowIDs = append(rowIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	update := fmt.Sprintf("UPDATE %s SET %s = ? WHERE rowid = ?", collection, f.Name)
	for _, id := range rowIDs {
		value, err := GenerateValue(ctx, tx, collection, f, m.maxAttempts)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, update, value, id); err != nil {
			return fmt.Errorf("backfilling %s.%s: %w", collection, f.Name, err)
		}
	}

	if len(rowIDs) > 0 {
		log.Info().
			Str("collection", collection).
			Str("field", f.Name).
			Int("rows", len(rowIDs)).
			Msg("Backfilled nanoid column")
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
