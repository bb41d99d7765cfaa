package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FilterOp names a comparison. The same names appear as the middle segment
// of "field:op:value" filter strings.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNe       FilterOp = "ne"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpLike     FilterOp = "like"
	OpIn       FilterOp = "in"
	OpContains FilterOp = "contains"
	OpIsNull   FilterOp = "is_null"
	OpNotNull  FilterOp = "not_null"
)

// comparisons maps the binary operators to SQL.
var comparisons = map[FilterOp]string{
	OpEq:   "=",
	OpNe:   "!=",
	OpGt:   ">",
	OpGte:  ">=",
	OpLt:   "<",
	OpLte:  "<=",
	OpLike: "LIKE",
}

// Valid reports whether op is understood by the builders.
func (op FilterOp) Valid() bool {
	if _, ok := comparisons[op]; ok {
		return true
	}
	switch op {
	case OpIn, OpContains, OpIsNull, OpNotNull:
		return true
	}
	return false
}

type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// condition renders f with its bound arguments.
func (f *Filter) condition() (string, []any) {
	switch f.Op {
	case OpIsNull:
		return f.Field + " IS NULL", nil
	case OpNotNull:
		return f.Field + " IS NOT NULL", nil
	case OpContains:
		return f.Field + " LIKE ?", []any{"%" + fmt.Sprint(f.Value) + "%"}
	case OpIn:
		values := inValues(f.Value)
		if len(values) == 0 {
			return "0", nil
		}
		return f.Field + " IN (" + placeholders(len(values)) + ")", values
	}

	op, ok := comparisons[f.Op]
	if !ok {
		op = "="
	}
	return f.Field + " " + op + " ?", []any{f.Value}
}

// inValues accepts a slice or a comma separated string, the form filter
// strings arrive in.
func inValues(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]any, len(parts))
		for i, s := range parts {
			out[i] = strings.TrimSpace(s)
		}
		return out
	case nil:
		return nil
	default:
		return []any{v}
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// conditions is an AND-joined WHERE clause.
type conditions []*Filter

func (c conditions) write(sb *strings.Builder, args []any) []any {
	for i, f := range c {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		cond, condArgs := f.condition()
		sb.WriteString(cond)
		args = append(args, condArgs...)
	}
	return args
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

type Sort struct {
	Field string
	Order SortOrder
}

// QueryBuilder assembles a SELECT against one table.
type QueryBuilder struct {
	table   string
	columns []string
	where   conditions
	sorts   []Sort
	limit   int
	offset  int
}

func NewQuery(table string) *QueryBuilder {
	return &QueryBuilder{table: table}
}

// Columns restricts the selected columns. All columns are selected when it
// is never called.
func (q *QueryBuilder) Columns(names ...string) *QueryBuilder {
	q.columns = names
	return q
}

func (q *QueryBuilder) Filter(field string, op FilterOp, value any) *QueryBuilder {
	q.where = append(q.where, &Filter{Field: field, Op: op, Value: value})
	return q
}

func (q *QueryBuilder) Where(field string, value any) *QueryBuilder {
	return q.Filter(field, OpEq, value)
}

func (q *QueryBuilder) Sort(field string, order SortOrder) *QueryBuilder {
	q.sorts = append(q.sorts, Sort{Field: field, Order: order})
	return q
}

func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

func (q *QueryBuilder) Build() (string, []any) {
	columns := "*"
	if len(q.columns) > 0 {
		columns = strings.Join(q.columns, ", ")
	}
	return q.build(columns, q.limit)
}

func (q *QueryBuilder) build(columns string, limit int) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT " + columns + " FROM " + q.table)
	args := q.where.write(&sb, nil)

	for i, s := range q.sorts {
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(s.Field + " " + string(s.Order))
	}

	// SQLite only accepts OFFSET after a LIMIT; -1 means no limit.
	switch {
	case limit > 0:
		sb.WriteString(" LIMIT " + strconv.Itoa(limit))
	case q.offset > 0:
		sb.WriteString(" LIMIT -1")
	}
	if q.offset > 0 {
		sb.WriteString(" OFFSET " + strconv.Itoa(q.offset))
	}

	return sb.String(), args
}

// BuildExists returns a query selecting at most one matching row.
func (q *QueryBuilder) BuildExists() (string, []any) {
	return q.build("1", 1)
}

// Exists reports whether q matches at least one row.
func Exists(ctx context.Context, exec Executor, q *QueryBuilder) (bool, error) {
	query, args := q.BuildExists()

	var one int
	err := exec.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertBuilder assembles a single-row INSERT.
type InsertBuilder struct {
	table   string
	columns []string
	values  []any
}

func NewInsert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

func (b *InsertBuilder) Set(column string, value any) *InsertBuilder {
	b.columns = append(b.columns, column)
	b.values = append(b.values, value)
	return b
}

// Build falls back to DEFAULT VALUES when no column was set, so a row made
// entirely of defaults can still be inserted.
func (b *InsertBuilder) Build() (string, []any) {
	if len(b.columns) == 0 {
		return "INSERT INTO " + b.table + " DEFAULT VALUES", nil
	}
	return "INSERT INTO " + b.table +
		" (" + strings.Join(b.columns, ", ") + ") VALUES (" + placeholders(len(b.columns)) + ")", b.values
}

// UpdateBuilder assembles an UPDATE of equality-matched rows.
type UpdateBuilder struct {
	table   string
	columns []string
	values  []any
	where   conditions
}

func NewUpdate(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

func (b *UpdateBuilder) Set(column string, value any) *UpdateBuilder {
	b.columns = append(b.columns, column)
	b.values = append(b.values, value)
	return b
}

func (b *UpdateBuilder) Where(field string, value any) *UpdateBuilder {
	b.where = append(b.where, &Filter{Field: field, Op: OpEq, Value: value})
	return b
}

func (b *UpdateBuilder) Build() (string, []any) {
	var sb strings.Builder
	sb.WriteString("UPDATE " + b.table + " SET ")
	for i, c := range b.columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c + " = ?")
	}
	args := b.where.write(&sb, append([]any(nil), b.values...))
	return sb.String(), args
}

// DeleteBuilder assembles a DELETE of equality-matched rows.
type DeleteBuilder struct {
	table string
	where conditions
}

func NewDelete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

func (b *DeleteBuilder) Where(field string, value any) *DeleteBuilder {
	b.where = append(b.where, &Filter{Field: field, Op: OpEq, Value: value})
	return b
}

func (b *DeleteBuilder) Build() (string, []any) {
	var sb strings.Builder
	sb.WriteString("DELETE FROM " + b.table)
	args := b.where.write(&sb, nil)
	return sb.String(), args
}

// ParseSortString reads "-field" as descending and "field" or "+field" as
// ascending.
func ParseSortString(s string) (field string, order SortOrder) {
	switch {
	case strings.HasPrefix(s, "-"):
		return s[1:], SortDesc
	case strings.HasPrefix(s, "+"):
		return s[1:], SortAsc
	}
	return s, SortAsc
}

// ParseFilterString reads "field:op[:value]". The value keeps any further
// colons, so "expires_at:lt:2025-01-01T00:00:00Z" parses as expected.
func ParseFilterString(s string) (*Filter, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return nil, fmt.Errorf("invalid filter format: %s", s)
	}

	op := FilterOp(parts[1])
	if !op.Valid() {
		return nil, fmt.Errorf("unknown filter operator %q in %s", parts[1], s)
	}

	f := &Filter{Field: parts[0], Op: op}
	if len(parts) > 2 {
		f.Value = parts[2]
	}
	return f, nil
}
