package schema

import (
	"fmt"
)

type ChangeType string

const (
	ChangeAddCollection  ChangeType = "add_collection"
	ChangeDropCollection ChangeType = "drop_collection"
	ChangeAddField       ChangeType = "add_field"
	ChangeDropField      ChangeType = "drop_field"
	ChangeModifyField    ChangeType = "modify_field"
	ChangeAddIndex       ChangeType = "add_index"
	ChangeDropIndex      ChangeType = "drop_index"
	ChangeModifyNanoID   ChangeType = "modify_nanoid"
)

// Change is one step between two schemas. Unsafe changes are reported but
// never applied by the migrator.
type Change struct {
	Type        ChangeType
	Collection  string
	Field       string
	NewField    *Field
	Index       *Index
	Safe        bool
	Description string
}

func (c *Change) String() string {
	switch c.Type {
	case ChangeAddCollection:
		return fmt.Sprintf("Add collection %q", c.Collection)
	case ChangeDropCollection:
		return fmt.Sprintf("Drop collection %q (DESTRUCTIVE)", c.Collection)
	case ChangeAddField:
		return fmt.Sprintf("Add field %q to collection %q", c.Field, c.Collection)
	case ChangeDropField:
		return fmt.Sprintf("Drop field %q from collection %q (DESTRUCTIVE)", c.Field, c.Collection)
	case ChangeAddIndex:
		return fmt.Sprintf("Add index %q on collection %q", c.Index.Name, c.Collection)
	case ChangeDropIndex:
		return fmt.Sprintf("Drop index %q", c.Index.Name)
	default:
		return fmt.Sprintf("%s.%s: %s", c.Collection, c.Field, c.Description)
	}
}

// Changes is an ordered migration plan.
type Changes []*Change

// Unsafe returns the changes the migrator refuses to apply.
func (cs Changes) Unsafe() Changes {
	var out Changes
	for _, c := range cs {
		if !c.Safe {
			out = append(out, c)
		}
	}
	return out
}

// Diff lists the changes that turn the old schema into cur. Drops come
// first, then additions and modifications in collection and field order.
func Diff(old, cur *Schema) Changes {
	var changes Changes

	for _, name := range old.CollectionNames() {
		if _, ok := cur.Collections[name]; !ok {
			changes = append(changes, &Change{
				Type:        ChangeDropCollection,
				Collection:  name,
				Description: fmt.Sprintf("Collection %q will be dropped", name),
			})
		}
	}

	for _, name := range cur.CollectionNames() {
		prev, ok := old.Collections[name]
		if !ok {
			changes = append(changes, &Change{
				Type:        ChangeAddCollection,
				Collection:  name,
				Safe:        true,
				Description: fmt.Sprintf("Collection %q will be created", name),
			})
			continue
		}
		changes = append(changes, diffCollection(name, prev, cur.Collections[name])...)
	}

	return changes
}

func diffCollection(name string, old, cur *Collection) Changes {
	var changes Changes

	for _, field := range old.FieldOrder() {
		if _, ok := cur.Fields[field]; !ok {
			changes = append(changes, &Change{
				Type:        ChangeDropField,
				Collection:  name,
				Field:       field,
				Description: fmt.Sprintf("Field %q will be dropped from %q", field, name),
			})
		}
	}

	for _, field := range cur.FieldOrder() {
		f := cur.Fields[field]
		prev, ok := old.Fields[field]
		if !ok {
			changes = append(changes, addField(name, f))
			continue
		}
		for _, c := range diffField(prev, f) {
			c.Collection, c.Field = name, field
			changes = append(changes, c)
		}
	}

	return append(changes, diffIndexes(name, old, cur)...)
}

// addField is safe when existing rows have a value for the new column:
// it is nullable, has a default, or is a nanoid the migrator backfills.
func addField(collection string, f *Field) *Change {
	safe := f.Nullable || f.HasDefault() || (f.IsNanoID() && !f.Primary)
	c := &Change{
		Type:        ChangeAddField,
		Collection:  collection,
		Field:       f.Name,
		NewField:    f,
		Safe:        safe,
		Description: fmt.Sprintf("Field %q will be added to %q", f.Name, collection),
	}
	if !safe {
		c.Description = fmt.Sprintf("Field %q added to %q needs a default or nullable for existing rows", f.Name, collection)
	}
	return c
}

// diffField compares one field present in both schemas. Column constraint
// edits need a table rebuild in SQLite and are reported as unsafe.
func diffField(old, cur *Field) Changes {
	var changes Changes
	unsafe := func(format string, args ...any) {
		changes = append(changes, &Change{
			Type:        ChangeModifyField,
			NewField:    cur,
			Description: fmt.Sprintf(format, args...),
		})
	}

	if old.Type != cur.Type && storageClass(old.Type) != storageClass(cur.Type) {
		unsafe("type change from %s to %s requires manual migration", old.Type, cur.Type)
	}
	if !old.Primary && !cur.Primary {
		if old.Nullable != cur.Nullable {
			unsafe("changing nullable to %t requires rebuilding the table", cur.Nullable)
		}
		if old.Unique != cur.Unique {
			unsafe("changing unique to %t requires rebuilding the table", cur.Unique)
		}
	}
	if old.References != cur.References && old.References != "" && cur.References != "" {
		unsafe("reference change from %s to %s requires manual migration", old.References, cur.References)
	}

	if old.IsNanoID() && cur.IsNanoID() {
		if c := diffNanoID(old, cur); c != nil {
			changes = append(changes, c)
		}
	}
	return changes
}

// diffNanoID compares generation options. Alphabet and editability only
// affect values generated later; the size is baked into the length check.
func diffNanoID(old, cur *Field) *Change {
	o, n := old.Deconstruct(), cur.Deconstruct()
	switch {
	case o.Size != n.Size:
		return &Change{
			Type:        ChangeModifyNanoID,
			NewField:    cur,
			Description: fmt.Sprintf("changing nanoid size from %d to %d requires rebuilding the table", o.Size, n.Size),
		}
	case o.Alphabet != n.Alphabet || o.AlphabetPredefined != n.AlphabetPredefined || o.Editable != n.Editable:
		return &Change{
			Type:        ChangeModifyNanoID,
			NewField:    cur,
			Safe:        true,
			Description: "nanoid generation options will be updated",
		}
	}
	return nil
}

func diffIndexes(collection string, old, cur *Collection) Changes {
	oldIdx, curIdx := indexesOf(collection, old), indexesOf(collection, cur)

	var changes Changes
	for _, name := range sortedKeys(oldIdx) {
		if _, ok := curIdx[name]; !ok {
			changes = append(changes, &Change{
				Type:        ChangeDropIndex,
				Collection:  collection,
				Index:       oldIdx[name],
				Safe:        true,
				Description: fmt.Sprintf("Index %q will be dropped", name),
			})
		}
	}
	for _, name := range sortedKeys(curIdx) {
		if _, ok := oldIdx[name]; !ok {
			changes = append(changes, &Change{
				Type:        ChangeAddIndex,
				Collection:  collection,
				Index:       curIdx[name],
				Safe:        true,
				Description: fmt.Sprintf("Index %q will be created", name),
			})
		}
	}
	return changes
}

// indexesOf collects declared indexes and the implicit ones of indexed
// fields. Unique fields are indexed by their constraint already.
func indexesOf(collection string, col *Collection) map[string]*Index {
	out := make(map[string]*Index)
	for _, idx := range col.Indexes {
		out[idx.Name] = idx
	}
	for _, f := range col.Fields {
		if !f.Index || f.Primary || f.Unique {
			continue
		}
		idx := fieldIndex(collection, f)
		if _, ok := out[idx.Name]; !ok {
			out[idx.Name] = idx
		}
	}
	return out
}

// storageClass groups field types that share a SQLite column affinity, so
// switching between them needs no data change.
func storageClass(t FieldType) string {
	switch t {
	case FieldTypeInt, FieldTypeBool:
		return "integer"
	case FieldTypeFloat:
		return "real"
	case FieldTypeBlob:
		return "blob"
	}
	return "text"
}
