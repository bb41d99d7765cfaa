package schema

import (
	"context"
	"fmt"

	"github.com/watzon/nanofield/internal/database"
	"github.com/watzon/nanofield/internal/nanoid"
)

// GenerateValue returns a new value for a nanoid field of collection. Values
// for unique fields are checked against the table through exec, giving up
// after maxAttempts collisions.
func GenerateValue(ctx context.Context, exec database.Executor, collection string, f *Field, maxAttempts int) (string, error) {
	gen, err := f.NanoIDGenerator()
	if err != nil {
		return "", err
	}

	if !f.Unique && !f.Primary {
		id, err := gen.New()
		if err != nil {
			return "", fmt.Errorf("field %q: %w", f.Name, err)
		}
		return id, nil
	}

	return nanoid.Attempt{
		Gen:         gen,
		MaxAttempts: maxAttempts,
		Kind:        nanoid.KindField,
		Subject:     fmt.Sprintf("field %q", f.Name),
		Exists: func(ctx context.Context, candidate string) (bool, error) {
			return database.Exists(ctx, exec, database.NewQuery(collection).Where(f.Name, candidate))
		},
	}.Run(ctx)
}
