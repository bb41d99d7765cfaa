package database

import (
	"errors"
	"strings"
)

// ConstraintKind identifies which SQLite constraint rejected a statement.
type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "UNIQUE"
	ConstraintForeignKey ConstraintKind = "FOREIGN KEY"
	ConstraintNotNull    ConstraintKind = "NOT NULL"
	ConstraintCheck      ConstraintKind = "CHECK"
)

var constraintKinds = []ConstraintKind{
	ConstraintUnique,
	ConstraintForeignKey,
	ConstraintNotNull,
	ConstraintCheck,
}

// ConstraintError is a constraint failure reported by SQLite.
type ConstraintError struct {
	Kind ConstraintKind

	// Table and Columns are set for UNIQUE and NOT NULL failures, where
	// SQLite names the offending columns. A composite unique index lists
	// every column of the index.
	Table   string
	Columns []string

	Err error
}

func (e *ConstraintError) Error() string {
	if len(e.Columns) == 0 {
		return strings.ToLower(string(e.Kind)) + " constraint failed"
	}
	return strings.ToLower(string(e.Kind)) + " constraint failed on " + e.Table + "." + strings.Join(e.Columns, ", ")
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// ClassifyError turns SQLite constraint messages into a *ConstraintError.
// Any other error is returned as is.
//
// The driver reports failures as
//
//	constraint failed: UNIQUE constraint failed: links.code (2067)
//
// with the column list present for UNIQUE and NOT NULL only.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return err
	}

	msg := err.Error()
	for _, kind := range constraintKinds {
		marker := string(kind) + " constraint failed"
		i := strings.Index(msg, marker)
		if i < 0 {
			continue
		}
		ce := &ConstraintError{Kind: kind, Err: err}
		if kind == ConstraintUnique || kind == ConstraintNotNull {
			ce.Table, ce.Columns = parseColumns(msg[i+len(marker):])
		}
		return ce
	}
	return err
}

// parseColumns reads ": t.a, t.b (2067)" into the table and column names.
func parseColumns(detail string) (string, []string) {
	detail = strings.TrimPrefix(detail, ":")
	if i := strings.Index(detail, " ("); i >= 0 {
		detail = detail[:i]
	}

	var table string
	var columns []string
	for _, ref := range strings.Split(detail, ",") {
		t, c, ok := strings.Cut(strings.TrimSpace(ref), ".")
		if !ok || c == "" {
			continue
		}
		table = t
		columns = append(columns, c)
	}
	return table, columns
}

// AsConstraint returns the constraint failure carried by err, classifying
// raw driver errors on the way.
func AsConstraint(err error) (*ConstraintError, bool) {
	var ce *ConstraintError
	if errors.As(ClassifyError(err), &ce) {
		return ce, true
	}
	return nil, false
}

func IsUniqueError(err error) bool {
	ce, ok := AsConstraint(err)
	return ok && ce.Kind == ConstraintUnique
}
