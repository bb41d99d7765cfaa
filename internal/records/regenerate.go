package records

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/watzon/nanofield/internal/database"
	"github.com/watzon/nanofield/internal/metrics"
	"github.com/watzon/nanofield/internal/schema"
)

// Regeneration describes a completed Regenerate call.
type Regeneration struct {
	Record            Record
	OldValue          any
	NewValue          string
	DependentsUpdated int64
}

// Regenerate replaces the value of a nanoid field on one record and
// rewrites every column that references the old value. Unless force is
// set the configured Confirmer must approve first.
func (s *Service) Regenerate(ctx context.Context, collection string, pk any, field string, force bool) (*Regeneration, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	f, ok := col.Fields[field]
	if !ok {
		return nil, fmt.Errorf("%w %q in collection %q", ErrUnknownField, field, collection)
	}
	if !f.IsNanoID() {
		return nil, fmt.Errorf("%w: %s.%s is %s", ErrNotNanoIDField, collection, field, f.Type)
	}
	if f.Primary {
		return nil, fmt.Errorf("%w: %s.%s", ErrPrimaryKey, collection, field)
	}

	if _, err := get(ctx, s.db, col, pk); err != nil {
		return nil, err
	}

	if !force {
		if s.confirmer == nil {
			return nil, ErrCancelled
		}
		ok, err := s.confirmer.Confirm(ctx, regeneratePrompt(collection, field, pk))
		if err != nil {
			return nil, fmt.Errorf("confirming regeneration: %w", err)
		}
		if !ok {
			return nil, ErrCancelled
		}
	}

	result := &Regeneration{}
	err = s.db.Transaction(ctx, func(tx *database.Tx) error {
		if err := tx.DeferForeignKeys(ctx); err != nil {
			return err
		}

		current, err := get(ctx, tx, col, pk)
		if err != nil {
			return err
		}
		result.OldValue = current[field]

		newValue, err := s.newValue(ctx, tx, col, f)
		if err != nil {
			return err
		}
		result.NewValue = newValue

		query, args := database.NewUpdate(col.Name).
			Set(field, newValue).
			Where(col.PrimaryKeyField().Name, pk).
			Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return database.ClassifyError(err)
		}

		if result.OldValue != nil {
			n, err := updateDependents(ctx, tx, s.schema.ReverseRelations(col.Name, field), result.OldValue, newValue)
			if err != nil {
				return err
			}
			result.DependentsUpdated = n
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _nanofield_regenerations (collection, record_id, field, old_value, new_value, dependents_updated, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			col.Name, fmt.Sprint(pk), field, result.OldValue, newValue, result.DependentsUpdated, database.Now(),
		); err != nil {
			return fmt.Errorf("recording regeneration: %w", err)
		}

		result.Record, err = get(ctx, tx, col, pk)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordRegeneration(col.Name, field)
	log.Debug().
		Str("collection", col.Name).
		Str("field", field).
		Any("old", result.OldValue).
		Str("new", result.NewValue).
		Int64("dependents", result.DependentsUpdated).
		Msg("NanoID regenerated")

	return result, nil
}

func (s *Service) newValue(ctx context.Context, exec database.Executor, col *schema.Collection, f *schema.Field) (string, error) {
	if f.Unique {
		return s.generate(ctx, exec, col.Name, f, s.maxAttempts)
	}
	gen, err := f.NanoIDGenerator()
	if err != nil {
		return "", err
	}
	return gen.New()
}

func updateDependents(ctx context.Context, exec database.Executor, relations []schema.Relation, oldValue any, newValue string) (int64, error) {
	var total int64
	for _, rel := range relations {
		query, args := database.NewUpdate(rel.Collection).
			Set(rel.Field, newValue).
			Where(rel.Field, oldValue).
			Build()
		res, err := exec.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("updating %s.%s: %w", rel.Collection, rel.Field, database.ClassifyError(err))
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// History returns the regenerations recorded for one record, oldest first.
func (s *Service) History(ctx context.Context, collection string, pk any) ([]Record, error) {
	if _, err := s.collection(collection); err != nil {
		return nil, err
	}
	query, args := database.NewQuery("_nanofield_regenerations").
		Where("collection", collection).
		Where("record_id", fmt.Sprint(pk)).
		Sort("id", database.SortAsc).
		Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return database.ScanRows(rows)
}
