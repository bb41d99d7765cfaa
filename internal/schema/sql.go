package schema

import (
	"fmt"
	"strings"
)

type SQLGenerator struct {
	schema *Schema
}

func NewSQLGenerator(s *Schema) *SQLGenerator {
	return &SQLGenerator{schema: s}
}

// GenerateAll returns the statements creating every collection. Referenced
// collections are created before the collections pointing at them.
func (g *SQLGenerator) GenerateAll() []string {
	estimatedSize := len(g.schema.Collections) * 3
	statements := make([]string, 0, estimatedSize)

	for _, col := range g.creationOrder() {
		statements = append(statements, g.GenerateCollection(col)...)
	}

	return statements
}

// GenerateCollection returns the table, index, and trigger statements for col.
func (g *SQLGenerator) GenerateCollection(col *Collection) []string {
	statements := []string{g.GenerateCreateTable(col)}
	statements = append(statements, g.GenerateIndexes(col)...)
	statements = append(statements, g.GenerateTriggers(col)...)
	return statements
}

func (g *SQLGenerator) creationOrder() []*Collection {
	visited := make(map[string]bool, len(g.schema.Collections))
	order := make([]*Collection, 0, len(g.schema.Collections))

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		col, ok := g.schema.Collections[name]
		if !ok {
			return
		}
		for _, f := range col.OrderedFields() {
			if table, _, ok := f.ParseReference(); ok && table != name {
				visit(table)
			}
		}
		order = append(order, col)
	}

	for _, name := range g.schema.CollectionNames() {
		visit(name)
	}
	return order
}

func (g *SQLGenerator) GenerateCreateTable(col *Collection) string {
	var sb strings.Builder

	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(col.Name)
	sb.WriteString(" (\n")

	orderedFields := col.OrderedFields()
	columnDefs := make([]string, 0, len(orderedFields))
	constraints := make([]string, 0, len(orderedFields))

	for _, field := range orderedFields {
		columnDefs = append(columnDefs, g.ColumnDef(field))

		if field.References != "" {
			constraints = append(constraints, g.generateForeignKey(field))
		}
	}

	columnDefs = append(columnDefs, constraints...)
	sb.WriteString("\t")
	sb.WriteString(strings.Join(columnDefs, ",\n\t"))
	sb.WriteString("\n)")

	return sb.String()
}

// ColumnDef returns the column definition used in CREATE TABLE.
func (g *SQLGenerator) ColumnDef(f *Field) string {
	parts := []string{f.Name, f.Type.SQLiteType()}

	if f.Primary {
		parts = append(parts, "PRIMARY KEY")
	}

	// Nanoid values are generated at save time, so the column starts out
	// nullable.
	if !f.Nullable && !f.Primary && !f.IsNanoID() {
		parts = append(parts, "NOT NULL")
	}

	if f.Unique && !f.Primary {
		parts = append(parts, "UNIQUE")
	}

	if def := f.SQLDefault(); def != "" {
		parts = append(parts, "DEFAULT", def)
	}

	if check := g.lengthCheck(f); check != "" {
		parts = append(parts, check)
	}

	return strings.Join(parts, " ")
}

// AddColumnDef returns the definition used by ALTER TABLE ADD COLUMN, which
// SQLite does not allow to carry PRIMARY KEY or UNIQUE.
func (g *SQLGenerator) AddColumnDef(f *Field) string {
	parts := []string{f.Name, f.Type.SQLiteType()}

	if !f.Nullable && !f.IsNanoID() {
		parts = append(parts, "NOT NULL")
	}

	if def := f.SQLDefault(); def != "" {
		parts = append(parts, "DEFAULT", def)
	}

	if check := g.lengthCheck(f); check != "" {
		parts = append(parts, check)
	}

	if f.References != "" {
		table, field, _ := f.ParseReference()
		parts = append(parts, fmt.Sprintf("REFERENCES %s(%s)", table, field))
	}

	return strings.Join(parts, " ")
}

func (g *SQLGenerator) lengthCheck(f *Field) string {
	if f.MaxLength == nil || !f.Type.IsTextual() {
		return ""
	}
	return fmt.Sprintf("CHECK (length(%s) <= %d)", f.Name, *f.MaxLength)
}

func (g *SQLGenerator) generateForeignKey(f *Field) string {
	table, field, _ := f.ParseReference()
	onDelete := f.OnDelete
	if onDelete == "" {
		onDelete = OnDeleteRestrict
	}
	return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE %s",
		f.Name, table, field, onDelete.SQL())
}

func (g *SQLGenerator) GenerateIndexes(col *Collection) []string {
	indexes := make([]string, 0, len(col.Fields))

	for _, field := range col.OrderedFields() {
		if field.Index && !field.Primary && !field.Unique {
			indexes = append(indexes, fieldIndex(col.Name, field).SQL(col.Name))
		}
	}

	for _, idx := range col.Indexes {
		indexes = append(indexes, idx.SQL(col.Name))
	}

	return indexes
}

// UniqueIndex returns the index enforcing uniqueness for a column added
// after the table was created.
func UniqueIndex(collection string, f *Field) *Index {
	return &Index{
		Name:   fmt.Sprintf("uq_%s_%s", collection, f.Name),
		Fields: []string{f.Name},
		Unique: true,
	}
}

func fieldIndex(collection string, f *Field) *Index {
	return &Index{
		Name:   fmt.Sprintf("idx_%s_%s", collection, f.Name),
		Fields: []string{f.Name},
	}
}

func (g *SQLGenerator) GenerateTriggers(col *Collection) []string {
	var triggers []string

	pk := col.PrimaryKeyField()
	if pk == nil {
		return triggers
	}

	var autoUpdateFields []string
	for _, field := range col.OrderedFields() {
		if field.IsAutoUpdateTimestamp() {
			autoUpdateFields = append(autoUpdateFields,
				fmt.Sprintf("%s = datetime('now')", field.Name))
		}
	}

	if len(autoUpdateFields) > 0 {
		triggers = append(triggers, fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_auto_update_timestamp
AFTER UPDATE ON %s
FOR EACH ROW WHEN NEW.%s IS OLD.%s
BEGIN
	UPDATE %s SET %s WHERE %s = NEW.%s;
END`, col.Name, col.Name, autoUpdateTrigger(col), autoUpdateTrigger(col),
			col.Name, strings.Join(autoUpdateFields, ", "), pk.Name, pk.Name))
	}

	return triggers
}

// autoUpdateTrigger names the first auto-updated column. The trigger only
// fires when the statement left it untouched, so its own UPDATE does not
// recurse.
func autoUpdateTrigger(col *Collection) string {
	for _, field := range col.OrderedFields() {
		if field.IsAutoUpdateTimestamp() {
			return field.Name
		}
	}
	return ""
}

func (g *SQLGenerator) GenerateDropIndex(name string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s", name)
}
