package schema

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/watzon/nanofield/internal/nanoid"
)

// Defaults are applied to nanoid fields and bucket uploads that leave
// options unset.
type Defaults struct {
	Size int
}

func (d Defaults) size() int {
	if d.Size < 1 {
		return nanoid.DefaultSize
	}
	return d.Size
}

func ParseFile(path string) (*Schema, error) {
	return ParseFileWithDefaults(path, Defaults{})
}

func ParseFileWithDefaults(path string, d Defaults) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return ParseWithDefaults(data, d)
}

func Parse(data []byte) (*Schema, error) {
	return ParseWithDefaults(data, Defaults{})
}

func ParseWithDefaults(data []byte, d Defaults) (*Schema, error) {
	var raw rawSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing schema YAML: %w", err)
	}

	schema := &Schema{
		Version:     raw.Version,
		Collections: make(map[string]*Collection),
		Buckets:     make(map[string]*Bucket),
	}

	for name, rawCol := range raw.Collections {
		col, err := parseCollection(name, rawCol, d)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", name, err)
		}
		schema.Collections[name] = col
	}

	for name, bucket := range raw.Buckets {
		if bucket == nil {
			bucket = &Bucket{}
		}
		bucket.Name = name
		if bucket.Upload != nil && bucket.Upload.Size == 0 {
			bucket.Upload.Size = d.size()
		}
		schema.Buckets[name] = bucket
	}

	if err := Validate(schema); err != nil {
		return nil, err
	}

	return schema, nil
}

type rawSchema struct {
	Version     int                       `yaml:"version"`
	Collections map[string]*rawCollection `yaml:"collections"`
	Buckets     map[string]*Bucket        `yaml:"buckets"`
}

type rawCollection struct {
	Fields  yaml.Node `yaml:"fields"`
	Indexes []*Index  `yaml:"indexes"`
}

// explicitFlags records which boolean options were written out, since
// nanoid fields default unique and editable differently from other types.
type explicitFlags struct {
	Unique   *bool `yaml:"unique"`
	Editable *bool `yaml:"editable"`
}

func parseCollection(name string, raw *rawCollection, d Defaults) (*Collection, error) {
	col := &Collection{
		Name:    name,
		Fields:  make(map[string]*Field),
		Indexes: raw.Indexes,
	}

	if raw.Fields.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("fields must be a mapping")
	}

	fieldOrder := make([]string, 0, len(raw.Fields.Content)/2)
	for i := 0; i < len(raw.Fields.Content); i += 2 {
		keyNode := raw.Fields.Content[i]
		valueNode := raw.Fields.Content[i+1]

		fieldName := keyNode.Value
		fieldOrder = append(fieldOrder, fieldName)

		var field Field
		if err := valueNode.Decode(&field); err != nil {
			return nil, fmt.Errorf("field %q: %w", fieldName, err)
		}
		var flags explicitFlags
		if err := valueNode.Decode(&flags); err != nil {
			return nil, fmt.Errorf("field %q: %w", fieldName, err)
		}
		field.Name = fieldName

		if field.Validate != nil {
			if field.MinLength == nil && field.Validate.MinLength != nil {
				field.MinLength = field.Validate.MinLength
			}
			if field.MaxLength == nil && field.Validate.MaxLength != nil {
				field.MaxLength = field.Validate.MaxLength
			}
		}

		applyFieldDefaults(&field, flags, d)
		col.Fields[fieldName] = &field
	}

	col.SetFieldOrder(fieldOrder)
	return col, nil
}

func applyFieldDefaults(f *Field, flags explicitFlags, d Defaults) {
	if !f.IsNanoID() {
		if flags.Editable == nil {
			f.Editable = true
		}
		return
	}

	if flags.Unique == nil {
		f.Unique = true
	}
	if flags.Editable == nil {
		f.Editable = false
	}

	if f.NanoID == nil {
		f.NanoID = &NanoIDConfig{}
	}
	if f.NanoID.AlphabetPredefined == "" {
		f.NanoID.AlphabetPredefined = defaultAlphabetFor(f.NanoID.Alphabet)
	}
	if f.NanoID.Size == 0 {
		f.NanoID.Size = d.size()
	}

	size := f.NanoID.Size
	f.MaxLength = &size
	f.Default = ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
