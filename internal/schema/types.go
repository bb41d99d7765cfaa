package schema

import (
	"fmt"
	"strings"

	"github.com/watzon/nanofield/internal/alphabet"
	"github.com/watzon/nanofield/internal/nanoid"
)

type FieldType string

const (
	FieldTypeUUID      FieldType = "uuid"
	FieldTypeNanoID    FieldType = "nanoid"
	FieldTypeString    FieldType = "string"
	FieldTypeText      FieldType = "text"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeJSON      FieldType = "json"
	FieldTypeBlob      FieldType = "blob"
	FieldTypeEmail     FieldType = "email"
	FieldTypeURL       FieldType = "url"
	FieldTypeDate      FieldType = "date"
	FieldTypeFile      FieldType = "file"
)

func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeUUID, FieldTypeNanoID, FieldTypeString, FieldTypeText, FieldTypeInt,
		FieldTypeFloat, FieldTypeBool, FieldTypeTimestamp, FieldTypeJSON, FieldTypeBlob,
		FieldTypeEmail, FieldTypeURL, FieldTypeDate, FieldTypeFile:
		return true
	}
	return false
}

func (t FieldType) SQLiteType() string {
	switch t {
	case FieldTypeUUID, FieldTypeNanoID, FieldTypeString, FieldTypeText, FieldTypeTimestamp,
		FieldTypeJSON, FieldTypeEmail, FieldTypeURL, FieldTypeDate, FieldTypeFile:
		return "TEXT"
	case FieldTypeInt, FieldTypeBool:
		return "INTEGER"
	case FieldTypeFloat:
		return "REAL"
	case FieldTypeBlob:
		return "BLOB"
	}
	return "TEXT"
}

// IsTextual reports whether values of this type are stored as strings.
func (t FieldType) IsTextual() bool {
	return t.SQLiteType() == "TEXT"
}

type OnDeleteAction string

const (
	OnDeleteRestrict OnDeleteAction = "restrict"
	OnDeleteCascade  OnDeleteAction = "cascade"
	OnDeleteSetNull  OnDeleteAction = "set null"
)

func (a OnDeleteAction) IsValid() bool {
	switch a {
	case OnDeleteRestrict, OnDeleteCascade, OnDeleteSetNull, "":
		return true
	}
	return false
}

func (a OnDeleteAction) SQL() string {
	switch a {
	case OnDeleteCascade:
		return "CASCADE"
	case OnDeleteSetNull:
		return "SET NULL"
	default:
		return "RESTRICT"
	}
}

type DefaultValue string

const (
	DefaultAuto DefaultValue = "auto"
	DefaultNow  DefaultValue = "now"
)

type Schema struct {
	Version     int                    `yaml:"version"`
	Collections map[string]*Collection `yaml:"collections"`
	Buckets     map[string]*Bucket     `yaml:"buckets"`
}

// Relation is a field in one collection that references a field in another.
type Relation struct {
	Collection string
	Field      string
}

// ReverseRelations lists the fields across the schema that reference
// collection.field, sorted by collection and field name.
func (s *Schema) ReverseRelations(collection, field string) []Relation {
	var rels []Relation
	for _, name := range s.CollectionNames() {
		col := s.Collections[name]
		for _, fieldName := range col.FieldOrder() {
			f := col.Fields[fieldName]
			if f == nil {
				continue
			}
			table, target, ok := f.ParseReference()
			if ok && table == collection && target == field {
				rels = append(rels, Relation{Collection: name, Field: fieldName})
			}
		}
	}
	return rels
}

// CollectionNames returns the collection names in sorted order.
func (s *Schema) CollectionNames() []string {
	return sortedKeys(s.Collections)
}

type Collection struct {
	Name    string            `yaml:"-"`
	Fields  map[string]*Field `yaml:"fields"`
	Indexes []*Index          `yaml:"indexes"`

	fieldOrder []string
}

func (c *Collection) FieldOrder() []string {
	return c.fieldOrder
}

func (c *Collection) SetFieldOrder(order []string) {
	c.fieldOrder = order
}

func (c *Collection) OrderedFields() []*Field {
	fields := make([]*Field, 0, len(c.fieldOrder))
	for _, name := range c.fieldOrder {
		if f, ok := c.Fields[name]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}

func (c *Collection) PrimaryKeyField() *Field {
	for _, f := range c.Fields {
		if f.Primary {
			return f
		}
	}
	return nil
}

// NanoIDFields returns the nanoid fields in declaration order.
func (c *Collection) NanoIDFields() []*Field {
	var fields []*Field
	for _, f := range c.OrderedFields() {
		if f.IsNanoID() {
			fields = append(fields, f)
		}
	}
	return fields
}

// UniqueNanoIDFields returns the nanoid fields carrying a unique constraint.
// A nanoid primary key counts as unique.
func (c *Collection) UniqueNanoIDFields() []*Field {
	var fields []*Field
	for _, f := range c.NanoIDFields() {
		if f.Unique || f.Primary {
			fields = append(fields, f)
		}
	}
	return fields
}

// StripNonEditable returns a copy of row without fields that users may not
// set directly. Unknown keys are kept so that later validation can report them.
func (c *Collection) StripNonEditable(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if f, ok := c.Fields[k]; ok && !f.Editable {
			continue
		}
		out[k] = v
	}
	return out
}

// FileConfig ties a file field to the bucket its file IDs belong to.
type FileConfig struct {
	Bucket string `yaml:"bucket"`
}

// NanoIDConfig holds the generation options of a nanoid field.
type NanoIDConfig struct {
	Alphabet           string `yaml:"alphabet,omitempty"`
	AlphabetPredefined string `yaml:"alphabet_predefined,omitempty"`
	Size               int    `yaml:"size,omitempty"`
}

type Field struct {
	Name       string           `yaml:"-"`
	Type       FieldType        `yaml:"type"`
	Primary    bool             `yaml:"primary"`
	Unique     bool             `yaml:"unique"`
	Nullable   bool             `yaml:"nullable"`
	Index      bool             `yaml:"index"`
	Editable   bool             `yaml:"editable"`
	Default    string           `yaml:"default"`
	References string           `yaml:"references"`
	OnDelete   OnDeleteAction   `yaml:"onDelete"`
	OnUpdate   string           `yaml:"onUpdate"`
	Validate   *FieldValidation `yaml:"validate"`
	NanoID     *NanoIDConfig    `yaml:"nanoid"`
	File       *FileConfig      `yaml:"file"`

	MinLength *int `yaml:"minLength"`
	MaxLength *int `yaml:"maxLength"`
}

func (f *Field) IsNanoID() bool {
	return f.Type == FieldTypeNanoID
}

// Size returns the configured identifier length of a nanoid field.
func (f *Field) Size() int {
	if f.NanoID == nil || f.NanoID.Size == 0 {
		return nanoid.DefaultSize
	}
	return f.NanoID.Size
}

// NanoIDGenerator resolves the field's alphabet and returns a generator.
func (f *Field) NanoIDGenerator() (nanoid.Generator, error) {
	if !f.IsNanoID() {
		return nanoid.Generator{}, fmt.Errorf("field %q is not a nanoid field", f.Name)
	}
	var custom, predefined string
	if f.NanoID != nil {
		custom = f.NanoID.Alphabet
		predefined = f.NanoID.AlphabetPredefined
	}
	gen, err := nanoid.NewGenerator(custom, predefined, f.Size())
	if err != nil {
		return nanoid.Generator{}, fmt.Errorf("field %q: %w", f.Name, err)
	}
	return gen, nil
}

// Definition is the persisted shape of a field. Two fields with equal
// definitions produce the same column.
type Definition struct {
	Type               FieldType `yaml:"type"`
	Alphabet           string    `yaml:"alphabet,omitempty"`
	AlphabetPredefined string    `yaml:"alphabet_predefined,omitempty"`
	Size               int       `yaml:"size,omitempty"`
	Primary            bool      `yaml:"primary,omitempty"`
	Unique             bool      `yaml:"unique"`
	Nullable           bool      `yaml:"nullable,omitempty"`
	Editable           bool      `yaml:"editable"`
	MaxLength          int       `yaml:"max_length,omitempty"`
	Default            string    `yaml:"default,omitempty"`
	References         string    `yaml:"references,omitempty"`
}

// Deconstruct returns the field's persisted definition. Nanoid fields never
// carry a default since their value is generated at save time.
func (f *Field) Deconstruct() Definition {
	d := Definition{
		Type:       f.Type,
		Primary:    f.Primary,
		Unique:     f.Unique,
		Nullable:   f.Nullable,
		Editable:   f.Editable,
		Default:    f.Default,
		References: f.References,
	}
	if f.MaxLength != nil {
		d.MaxLength = *f.MaxLength
	}
	if f.IsNanoID() {
		if f.NanoID != nil {
			d.Alphabet = f.NanoID.Alphabet
			d.AlphabetPredefined = f.NanoID.AlphabetPredefined
		}
		d.Size = f.Size()
		d.MaxLength = d.Size
		d.Default = ""
	}
	return d
}

func (f *Field) HasDefault() bool {
	return f.Default != ""
}

func (f *Field) IsAutoUpdateTimestamp() bool {
	return f.OnUpdate == string(DefaultNow)
}

func (f *Field) ParseReference() (table, field string, ok bool) {
	if f.References == "" {
		return "", "", false
	}
	parts := strings.SplitN(f.References, ".", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (f *Field) SQLDefault() string {
	if f.Default == "" || f.IsNanoID() {
		return ""
	}
	switch f.Default {
	case string(DefaultAuto):
		return ""
	case string(DefaultNow):
		return "(datetime('now'))"
	default:
		switch f.Type {
		case FieldTypeString, FieldTypeText, FieldTypeUUID, FieldTypeEmail, FieldTypeURL:
			return fmt.Sprintf("'%s'", strings.ReplaceAll(f.Default, "'", "''"))
		case FieldTypeBool:
			if f.Default == "true" {
				return "1"
			}
			return "0"
		default:
			return f.Default
		}
	}
}

type FieldValidation struct {
	MinLength *int     `yaml:"minLength"`
	MaxLength *int     `yaml:"maxLength"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	Format    string   `yaml:"format"`
	Pattern   string   `yaml:"pattern"`
	Enum      []string `yaml:"enum"`
}

type Index struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique"`
	Order  string   `yaml:"order"`
}

func (i *Index) SQL(tableName string) string {
	uniqueStr := ""
	if i.Unique {
		uniqueStr = "UNIQUE "
	}

	orderStr := ""
	if i.Order != "" {
		orderStr = " " + strings.ToUpper(i.Order)
	}

	fieldList := make([]string, len(i.Fields))
	for idx, f := range i.Fields {
		fieldList[idx] = f + orderStr
	}

	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		uniqueStr, i.Name, tableName, strings.Join(fieldList, ", "))
}

// UploadConfig controls how uploaded objects in a bucket are named.
type UploadConfig struct {
	Path                     string `yaml:"path,omitempty"`
	PreserveOriginalFilename bool   `yaml:"preserve_original_filename,omitempty"`
	RemoveQueryStrings       *bool  `yaml:"remove_query_strings,omitempty"`
	Alphabet                 string `yaml:"alphabet,omitempty"`
	AlphabetPredefined       string `yaml:"alphabet_predefined,omitempty"`
	Size                     int    `yaml:"size,omitempty"`
}

// StripQueryStrings reports whether "?..." suffixes are removed from
// filenames before naming. It is on unless explicitly disabled.
func (u *UploadConfig) StripQueryStrings() bool {
	return u == nil || u.RemoveQueryStrings == nil || *u.RemoveQueryStrings
}

type Bucket struct {
	Name         string        `yaml:"-"`
	Backend      string        `yaml:"backend"`
	MaxFileSize  int64         `yaml:"max_file_size"`
	MaxTotalSize int64         `yaml:"max_total_size"`
	AllowedTypes []string      `yaml:"allowed_types"`
	AllowedNames []string      `yaml:"allowed_names"`
	Upload       *UploadConfig `yaml:"upload"`
}

func defaultAlphabetFor(custom string) string {
	if custom != "" {
		return ""
	}
	return alphabet.Default
}
