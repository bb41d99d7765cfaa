// Package records stores rows of schema collections and keeps their nanoid
// fields populated and unique.
package records

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/watzon/nanofield/internal/database"
	"github.com/watzon/nanofield/internal/metrics"
	"github.com/watzon/nanofield/internal/nanoid"
	"github.com/watzon/nanofield/internal/schema"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownField      = errors.New("unknown field")
	ErrNotFound          = errors.New("record not found")
	ErrNotNanoIDField    = errors.New("not a nanoid field")
	ErrPrimaryKey        = errors.New("cannot regenerate the primary key field")
	ErrCancelled         = errors.New("operation cancelled by the user")
	ErrFileNotFound      = errors.New("file not found in bucket")
)

// filesTable holds upload metadata, see the storage package.
const filesTable = "_nanofield_files"

// Record is a row keyed by column name.
type Record = database.Row

type Service struct {
	db          *database.DB
	schema      *schema.Schema
	maxAttempts int
	confirmer   Confirmer

	// generate produces unique field values; tests replace it.
	generate func(ctx context.Context, exec database.Executor, collection string, f *schema.Field, maxAttempts int) (string, error)
}

type Option func(*Service)

// WithMaxAttempts bounds the collision retry loop for unique fields.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithConfirmer sets who is asked before an identifier is regenerated.
func WithConfirmer(c Confirmer) Option {
	return func(s *Service) {
		s.confirmer = c
	}
}

func NewService(db *database.DB, s *schema.Schema, opts ...Option) *Service {
	svc := &Service{
		db:          db,
		schema:      s,
		maxAttempts: nanoid.DefaultMaxAttempts,
		generate:    schema.GenerateValue,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) Schema() *schema.Schema {
	return s.schema
}

func (s *Service) collection(name string) (*schema.Collection, error) {
	col, ok := s.schema.Collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return col, nil
}

// UniqueFields returns the names of the unique nanoid fields of a collection.
func (s *Service) UniqueFields(collection string) ([]string, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	return fieldNames(col.UniqueNanoIDFields()), nil
}

// NanoIDFields returns the names of all nanoid fields of a collection.
func (s *Service) NanoIDFields(collection string) ([]string, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	return fieldNames(col.NanoIDFields()), nil
}

func fieldNames(fields []*schema.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// EnsureUnique fills the unique nanoid fields of row. On new records absent
// or nil fields get a fresh value and a value that is already taken is
// replaced. On updates only fields explicitly set to nil are generated;
// absent fields keep their stored value.
func (s *Service) EnsureUnique(ctx context.Context, exec database.Executor, col *schema.Collection, row Record, adding bool) error {
	for _, f := range col.UniqueNanoIDFields() {
		value, present := row[f.Name]
		if !present && !adding {
			continue
		}
		if present && value != nil {
			if !adding {
				continue
			}
			taken, err := database.Exists(ctx, exec, database.NewQuery(col.Name).Where(f.Name, value))
			if err != nil {
				return fmt.Errorf("checking %s.%s: %w", col.Name, f.Name, err)
			}
			if !taken {
				continue
			}
			log.Debug().
				Str("collection", col.Name).
				Str("field", f.Name).
				Any("value", value).
				Msg("NanoID already taken on new record, regenerating")
		}

		generated, err := s.generate(ctx, exec, col.Name, f, s.maxAttempts)
		if err != nil {
			return err
		}
		row[f.Name] = generated
	}
	return nil
}

// fillNonUnique generates values for empty non-unique nanoid fields, with
// the same absent/nil rules as EnsureUnique.
func fillNonUnique(col *schema.Collection, row Record, adding bool) error {
	for _, f := range col.NanoIDFields() {
		if f.Unique || f.Primary {
			continue
		}
		value, present := row[f.Name]
		if (present && value != nil) || (!present && !adding) {
			continue
		}
		gen, err := f.NanoIDGenerator()
		if err != nil {
			return err
		}
		id, err := gen.New()
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		metrics.RecordGenerated(nanoid.KindField)
		row[f.Name] = id
	}
	return nil
}

// isNew reports whether row has no primary key yet or one that is not
// stored.
func isNew(ctx context.Context, exec database.Executor, col *schema.Collection, row Record) (bool, error) {
	pk := col.PrimaryKeyField()
	value, ok := row[pk.Name]
	if !ok || value == nil {
		return true, nil
	}
	found, err := database.Exists(ctx, exec, database.NewQuery(col.Name).Where(pk.Name, value))
	if err != nil {
		return false, fmt.Errorf("looking up %s.%s: %w", col.Name, pk.Name, err)
	}
	return !found, nil
}

// checkFiles verifies that file fields point at uploads stored in the
// field's bucket.
func checkFiles(ctx context.Context, exec database.Executor, col *schema.Collection, row Record) error {
	for _, f := range col.OrderedFields() {
		if f.Type != schema.FieldTypeFile || f.File == nil {
			continue
		}
		value, ok := row[f.Name]
		if !ok || value == nil {
			continue
		}
		found, err := database.Exists(ctx, exec, database.NewQuery(filesTable).
			Where("id", value).
			Where("bucket", f.File.Bucket))
		if err != nil {
			return fmt.Errorf("checking %s.%s: %w", col.Name, f.Name, err)
		}
		if !found {
			return fmt.Errorf("%w: %s.%s = %v (bucket %q)", ErrFileNotFound, col.Name, f.Name, value, f.File.Bucket)
		}
	}
	return nil
}

func checkFields(col *schema.Collection, row Record) error {
	for key := range row {
		if _, ok := col.Fields[key]; !ok {
			return fmt.Errorf("%w %q in collection %q", ErrUnknownField, key, col.Name)
		}
	}
	return nil
}

// Save inserts or updates row in one transaction, filling nanoid fields
// first. A unique violation raised by the write is retried once with
// freshly ensured values. The stored row is returned.
func (s *Service) Save(ctx context.Context, collection string, row Record) (Record, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if err := checkFields(col, row); err != nil {
		return nil, err
	}
	if row == nil {
		row = Record{}
	}

	var saved Record
	err = s.db.Transaction(ctx, func(tx *database.Tx) error {
		adding, err := isNew(ctx, tx, col, row)
		if err != nil {
			return err
		}

		// Each attempt starts from the caller's row, so values generated by
		// a failed attempt are never reused.
		saved, err = s.saveTx(ctx, tx, col, maps.Clone(row), adding)
		if ce, ok := database.AsConstraint(err); ok && retryable(col, ce) {
			log.Debug().
				Err(err).
				Str("collection", col.Name).
				Strs("columns", ce.Columns).
				Msg("Unique constraint hit while saving, retrying with new NanoIDs")
			saved, err = s.saveTx(ctx, tx, col, maps.Clone(row), adding)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Service) saveTx(ctx context.Context, tx *database.Tx, col *schema.Collection, row Record, adding bool) (Record, error) {
	if err := s.EnsureUnique(ctx, tx, col, row, adding); err != nil {
		return nil, err
	}
	if err := fillNonUnique(col, row, adding); err != nil {
		return nil, err
	}
	if err := checkFiles(ctx, tx, col, row); err != nil {
		return nil, err
	}
	if adding {
		return insert(ctx, tx, col, row)
	}
	return update(ctx, tx, col, row)
}

// retryable reports whether a fresh set of NanoIDs could clear ce. Unique
// failures on other columns come from caller data and are returned as is.
func retryable(col *schema.Collection, ce *database.ConstraintError) bool {
	if ce.Kind != database.ConstraintUnique {
		return false
	}
	if len(ce.Columns) == 0 {
		return true
	}
	for _, name := range ce.Columns {
		if f, ok := col.Fields[name]; ok && f.IsNanoID() {
			return true
		}
	}
	return false
}

func insert(ctx context.Context, exec database.Executor, col *schema.Collection, row Record) (Record, error) {
	b := database.NewInsert(col.Name)
	for _, name := range orderedKeys(col, row) {
		b.Set(name, row[name])
	}
	query, args := b.Build()
	return queryOne(ctx, exec, query+" RETURNING *", args)
}

func update(ctx context.Context, exec database.Executor, col *schema.Collection, row Record) (Record, error) {
	pk := col.PrimaryKeyField()
	if len(row) <= 1 {
		// Nothing besides the key to write.
		return get(ctx, exec, col, row[pk.Name])
	}

	b := database.NewUpdate(col.Name)
	for _, name := range orderedKeys(col, row) {
		if name == pk.Name {
			continue
		}
		b.Set(name, row[name])
	}
	b.Where(pk.Name, row[pk.Name])
	query, args := b.Build()
	return queryOne(ctx, exec, query+" RETURNING *", args)
}

func orderedKeys(col *schema.Collection, row Record) []string {
	keys := make([]string, 0, len(row))
	for _, name := range col.FieldOrder() {
		if _, ok := row[name]; ok {
			keys = append(keys, name)
		}
	}
	return keys
}

func queryOne(ctx context.Context, exec database.Executor, query string, args []any) (Record, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.ClassifyError(err)
	}
	defer rows.Close()

	result, err := database.ScanRows(rows)
	if err != nil {
		return nil, database.ClassifyError(err)
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result[0], nil
}

func get(ctx context.Context, exec database.Executor, col *schema.Collection, pk any) (Record, error) {
	query, args := database.NewQuery(col.Name).Where(col.PrimaryKeyField().Name, pk).Limit(1).Build()
	row, err := queryOne(ctx, exec, query, args)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, col.Name, pk)
	}
	return row, err
}

// Get returns the record with the given primary key.
func (s *Service) Get(ctx context.Context, collection string, pk any) (Record, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	return get(ctx, s.db, col, pk)
}

// Delete removes the record with the given primary key.
func (s *Service) Delete(ctx context.Context, collection string, pk any) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	query, args := database.NewDelete(col.Name).Where(col.PrimaryKeyField().Name, pk).Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return database.ClassifyError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s %v", ErrNotFound, col.Name, pk)
	}
	return nil
}

// ListOptions narrow and order List results.
type ListOptions struct {
	Filters []*database.Filter

	// Sort entries are field names, prefixed with "-" for descending order.
	Sort   []string
	Limit  int
	Offset int
}

// List returns records matching opts. Filter and sort fields must belong
// to the collection.
func (s *Service) List(ctx context.Context, collection string, opts ListOptions) ([]Record, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	q := database.NewQuery(col.Name)
	for _, f := range opts.Filters {
		if _, ok := col.Fields[f.Field]; !ok {
			return nil, fmt.Errorf("%w %q in filter", ErrUnknownField, f.Field)
		}
		q.Filter(f.Field, f.Op, f.Value)
	}

	sorts := opts.Sort
	if len(sorts) == 0 {
		sorts = []string{col.PrimaryKeyField().Name}
	}
	for _, raw := range sorts {
		field, order := database.ParseSortString(raw)
		if _, ok := col.Fields[field]; !ok {
			return nil, fmt.Errorf("%w %q in sort", ErrUnknownField, field)
		}
		q.Sort(field, order)
	}

	if opts.Limit > 0 {
		q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q.Offset(opts.Offset)
	}

	query, args := q.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", col.Name, err)
	}
	defer rows.Close()

	result, err := database.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = []Record{}
	}
	return result, nil
}

// SortedKeys returns the keys of r in sorted order, for stable output.
func SortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
