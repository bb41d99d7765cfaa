package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Marshal serializes a Schema to YAML bytes.
// Collections and Buckets are sorted alphabetically by name.
// Field order within collections is preserved using Collection.FieldOrder().
func Marshal(s *Schema) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("schema is nil")
	}

	// Build the raw schema structure for serialization
	raw := &rawSchemaWriter{
		Version:     s.Version,
		Buckets:     make(map[string]*rawBucketWriter),
		Collections: make(map[string]*rawCollectionWriter),
	}

	// Convert buckets (sorted alphabetically)
	for _, name := range sortedKeys(s.Buckets) {
		bucket := s.Buckets[name]
		raw.Buckets[name] = &rawBucketWriter{
			Backend:      bucket.Backend,
			MaxFileSize:  bucket.MaxFileSize,
			MaxTotalSize: bucket.MaxTotalSize,
			AllowedTypes: bucket.AllowedTypes,
			AllowedNames: bucket.AllowedNames,
			Upload:       bucket.Upload,
		}
	}

	// Convert collections (sorted alphabetically)
	for _, name := range s.CollectionNames() {
		col := s.Collections[name]
		rawCol := &rawCollectionWriter{
			Indexes: col.Indexes,
		}

		// Use yaml.Node to preserve field order
		fieldsNode := &yaml.Node{
			Kind: yaml.MappingNode,
		}

		// Add fields in the order specified by FieldOrder()
		for _, fieldName := range col.FieldOrder() {
			if field, ok := col.Fields[fieldName]; ok {
				// Create key node
				keyNode := &yaml.Node{
					Kind:  yaml.ScalarNode,
					Value: fieldName,
				}

				// Create value node by encoding the field
				valueNode := &yaml.Node{}
				if err := valueNode.Encode(marshalField(field)); err != nil {
					return nil, fmt.Errorf("encoding field %s.%s: %w", name, fieldName, err)
				}

				fieldsNode.Content = append(fieldsNode.Content, keyNode, valueNode)
			}
		}

		rawCol.Fields = fieldsNode
		raw.Collections[name] = rawCol
	}

	// Use yaml.v3 Node API to control field ordering
	node := &yaml.Node{}
	if err := node.Encode(raw); err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}

	// Marshal with proper indentation
	data, err := yaml.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("marshaling YAML: %w", err)
	}

	return data, nil
}

// WriteFile writes a Schema to a file using atomic write pattern.
// It writes to a temporary file first, then renames it to the target path.
func WriteFile(path string, s *Schema) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // cleanup on failure
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// marshalField converts a Field to a fieldWriter for serialization.
// Options that match their type's defaults are omitted.
func marshalField(f *Field) *fieldWriter {
	fw := &fieldWriter{
		Type:       f.Type,
		Primary:    f.Primary,
		Nullable:   f.Nullable,
		Index:      f.Index,
		Default:    f.Default,
		References: f.References,
		OnDelete:   f.OnDelete,
		OnUpdate:   f.OnUpdate,
		Validate:   f.Validate,
		File:       f.File,
		MinLength:  f.MinLength,
		MaxLength:  f.MaxLength,
	}

	if f.IsNanoID() {
		def := f.Deconstruct()
		fw.NanoID = &NanoIDConfig{
			Alphabet:           def.Alphabet,
			AlphabetPredefined: def.AlphabetPredefined,
			Size:               def.Size,
		}
		// max length always follows size
		fw.MaxLength = nil
		if !f.Unique {
			fw.Unique = boolPtr(false)
		}
		if f.Editable {
			fw.Editable = boolPtr(true)
		}
		return fw
	}

	if f.Unique {
		fw.Unique = boolPtr(true)
	}
	if !f.Editable {
		fw.Editable = boolPtr(false)
	}
	return fw
}

func boolPtr(b bool) *bool {
	return &b
}

// rawSchemaWriter is the intermediate structure for YAML serialization.
type rawSchemaWriter struct {
	Version     int                             `yaml:"version"`
	Buckets     map[string]*rawBucketWriter     `yaml:"buckets,omitempty"`
	Collections map[string]*rawCollectionWriter `yaml:"collections"`
}

// rawCollectionWriter represents a collection for serialization.
type rawCollectionWriter struct {
	Fields  *yaml.Node `yaml:"fields"`
	Indexes []*Index   `yaml:"indexes,omitempty"`
}

// fieldWriter represents a field for serialization.
type fieldWriter struct {
	Type       FieldType        `yaml:"type"`
	Primary    bool             `yaml:"primary,omitempty"`
	Unique     *bool            `yaml:"unique,omitempty"`
	Nullable   bool             `yaml:"nullable,omitempty"`
	Index      bool             `yaml:"index,omitempty"`
	Editable   *bool            `yaml:"editable,omitempty"`
	Default    string           `yaml:"default,omitempty"`
	References string           `yaml:"references,omitempty"`
	OnDelete   OnDeleteAction   `yaml:"onDelete,omitempty"`
	OnUpdate   string           `yaml:"onUpdate,omitempty"`
	Validate   *FieldValidation `yaml:"validate,omitempty"`
	NanoID     *NanoIDConfig    `yaml:"nanoid,omitempty"`
	File       *FileConfig      `yaml:"file,omitempty"`
	MinLength  *int             `yaml:"minLength,omitempty"`
	MaxLength  *int             `yaml:"maxLength,omitempty"`
}

// rawBucketWriter represents a bucket for serialization.
type rawBucketWriter struct {
	Backend      string        `yaml:"backend"`
	MaxFileSize  int64         `yaml:"max_file_size,omitempty"`
	MaxTotalSize int64         `yaml:"max_total_size,omitempty"`
	AllowedTypes []string      `yaml:"allowed_types,omitempty"`
	AllowedNames []string      `yaml:"allowed_names,omitempty"`
	Upload       *UploadConfig `yaml:"upload,omitempty"`
}
