package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"

	"github.com/watzon/nanofield/internal/alphabet"
)

// IdentifierRegex matches valid collection and field names.
var IdentifierRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// maxAlphabetLen is the largest alphabet the generator accepts.
const maxAlphabetLen = 255

// ReservedPrefix marks internal tables.
const ReservedPrefix = "_nanofield"

// ValidateIdentifier checks if a name is a valid SQL identifier.
func ValidateIdentifier(name string) error {
	if !IdentifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must start with lowercase letter and contain only lowercase letters, numbers, and underscores", name)
	}
	return nil
}

type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("schema validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(s *Schema) error {
	var errs ValidationErrors

	if s.Version < 1 {
		errs = append(errs, &ValidationError{
			Path:    "version",
			Message: "must be at least 1",
		})
	}

	if len(s.Collections) == 0 {
		errs = append(errs, &ValidationError{
			Path:    "collections",
			Message: "at least one collection is required",
		})
	}

	for _, name := range s.CollectionNames() {
		errs = append(errs, validateCollection(name, s.Collections[name], s)...)
	}

	for _, name := range sortedKeys(s.Buckets) {
		errs = append(errs, validateBucket(name, s.Buckets[name])...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateCollection(name string, col *Collection, s *Schema) ValidationErrors {
	var errs ValidationErrors
	path := fmt.Sprintf("collections.%s", name)

	if !IdentifierRegex.MatchString(name) {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: "name must start with lowercase letter and contain only lowercase letters, numbers, and underscores",
		})
	}

	if strings.HasPrefix(name, ReservedPrefix) {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("collection names starting with '%s' are reserved", ReservedPrefix),
		})
	}

	if len(col.Fields) == 0 {
		errs = append(errs, &ValidationError{
			Path:    path + ".fields",
			Message: "at least one field is required",
		})
	}

	hasPrimary := false
	for _, fieldName := range col.FieldOrder() {
		field := col.Fields[fieldName]
		errs = append(errs, validateField(path+".fields."+fieldName, fieldName, field, s)...)

		if field.Primary {
			if hasPrimary {
				errs = append(errs, &ValidationError{
					Path:    path + ".fields." + fieldName,
					Message: "only one primary key field is allowed",
				})
			}
			hasPrimary = true
		}
	}

	if !hasPrimary {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: "collection must have a primary key field",
		})
	}

	for i, idx := range col.Indexes {
		idxPath := fmt.Sprintf("%s.indexes[%d]", path, i)
		if idx.Name == "" {
			errs = append(errs, &ValidationError{
				Path:    idxPath + ".name",
				Message: "index name is required",
			})
		}
		if len(idx.Fields) == 0 {
			errs = append(errs, &ValidationError{
				Path:    idxPath + ".fields",
				Message: "index must have at least one field",
			})
		}
		for _, f := range idx.Fields {
			if _, ok := col.Fields[f]; !ok {
				errs = append(errs, &ValidationError{
					Path:    idxPath + ".fields",
					Message: fmt.Sprintf("field %q does not exist in collection", f),
				})
			}
		}
	}

	return errs
}

func validateField(path, name string, f *Field, s *Schema) ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, validateFieldBasics(path, name, f)...)
	errs = append(errs, validateFieldNanoID(path, f)...)
	errs = append(errs, validateFieldReferences(path, f, s)...)
	errs = append(errs, validateFieldFile(path, f, s)...)
	errs = append(errs, validateFieldTimestamps(path, f)...)
	errs = append(errs, validateFieldLength(path, f)...)

	if f.Validate != nil {
		errs = append(errs, validateFieldValidation(path+".validate", f)...)
	}

	return errs
}

func validateFieldBasics(path, name string, f *Field) ValidationErrors {
	var errs ValidationErrors

	if !IdentifierRegex.MatchString(name) {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: "name must start with lowercase letter and contain only lowercase letters, numbers, and underscores",
		})
	}

	if !f.Type.IsValid() {
		errs = append(errs, &ValidationError{
			Path:    path + ".type",
			Message: fmt.Sprintf("invalid type %q; must be one of: uuid, nanoid, string, text, int, float, bool, timestamp, json, blob, email, url, date, file", f.Type),
		})
	}

	if f.Primary && f.Nullable {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: "primary key cannot be nullable",
		})
	}

	return errs
}

func validateFieldFile(path string, f *Field, s *Schema) ValidationErrors {
	if f.Type != FieldTypeFile {
		if f.File != nil {
			return ValidationErrors{{
				Path:    path + ".file",
				Message: "file config can only be used with file field type",
			}}
		}
		return nil
	}

	if f.File == nil || f.File.Bucket == "" {
		return ValidationErrors{{
			Path:    path + ".file.bucket",
			Message: "file fields must name a bucket",
		}}
	}
	if _, ok := s.Buckets[f.File.Bucket]; !ok {
		return ValidationErrors{{
			Path:    path + ".file.bucket",
			Message: fmt.Sprintf("bucket %q not found", f.File.Bucket),
		}}
	}
	return nil
}

func validateFieldNanoID(path string, f *Field) ValidationErrors {
	var errs ValidationErrors

	if !f.IsNanoID() {
		if f.NanoID != nil {
			errs = append(errs, &ValidationError{
				Path:    path + ".nanoid",
				Message: "nanoid config can only be used with nanoid field type",
			})
		}
		return errs
	}

	if f.References != "" {
		errs = append(errs, &ValidationError{
			Path:    path + ".references",
			Message: "nanoid fields generate their own values and cannot reference another field; use type string",
		})
	}

	if f.NanoID == nil {
		return errs
	}

	return append(errs, validateAlphabetOptions(path+".nanoid",
		f.NanoID.Alphabet, f.NanoID.AlphabetPredefined, f.NanoID.Size)...)
}

func validateAlphabetOptions(path, custom, predefined string, size int) ValidationErrors {
	var errs ValidationErrors

	if size < 1 {
		errs = append(errs, &ValidationError{
			Path:    path + ".size",
			Message: "must be at least 1",
		})
	}

	if custom != "" {
		if n := utf8.RuneCountInString(custom); n < 2 || n > maxAlphabetLen {
			errs = append(errs, &ValidationError{
				Path:    path + ".alphabet",
				Message: fmt.Sprintf("must contain between 2 and %d characters", maxAlphabetLen),
			})
		}
	}

	if _, err := alphabet.Resolve(custom, predefined); errors.Is(err, alphabet.ErrUnknownAlphabet) {
		errs = append(errs, &ValidationError{
			Path:    path + ".alphabet_predefined",
			Message: fmt.Sprintf("unknown alphabet %q; must be one of: %s", predefined, strings.Join(alphabet.Names(), ", ")),
		})
	}

	return errs
}

func validateFieldReferences(path string, f *Field, s *Schema) ValidationErrors {
	var errs ValidationErrors

	if f.References == "" {
		return errs
	}

	table, field, ok := f.ParseReference()
	if !ok {
		errs = append(errs, &ValidationError{
			Path:    path + ".references",
			Message: "must be in format 'table.field'",
		})
	} else if refCol, ok := s.Collections[table]; !ok {
		errs = append(errs, &ValidationError{
			Path:    path + ".references",
			Message: fmt.Sprintf("referenced collection %q does not exist", table),
		})
	} else if refField, ok := refCol.Fields[field]; !ok {
		errs = append(errs, &ValidationError{
			Path:    path + ".references",
			Message: fmt.Sprintf("referenced field %q does not exist in collection %q", field, table),
		})
	} else if !refField.Primary && !refField.Unique {
		errs = append(errs, &ValidationError{
			Path:    path + ".references",
			Message: fmt.Sprintf("referenced field %q in collection %q must be primary or unique", field, table),
		})
	}

	if !f.OnDelete.IsValid() {
		errs = append(errs, &ValidationError{
			Path:    path + ".onDelete",
			Message: "must be one of: restrict, cascade, set null",
		})
	}

	if f.OnDelete == OnDeleteSetNull && !f.Nullable {
		errs = append(errs, &ValidationError{
			Path:    path + ".onDelete",
			Message: "cannot use 'set null' on non-nullable field",
		})
	}

	return errs
}

func validateFieldTimestamps(path string, f *Field) ValidationErrors {
	var errs ValidationErrors

	if f.OnUpdate != "" && f.OnUpdate != string(DefaultNow) {
		errs = append(errs, &ValidationError{
			Path:    path + ".onUpdate",
			Message: "only 'now' is supported for onUpdate",
		})
	}

	if f.OnUpdate == string(DefaultNow) && f.Type != FieldTypeTimestamp {
		errs = append(errs, &ValidationError{
			Path:    path + ".onUpdate",
			Message: "onUpdate: now can only be used with timestamp type",
		})
	}

	return errs
}

func validateFieldLength(path string, f *Field) ValidationErrors {
	var errs ValidationErrors

	if f.MinLength == nil && f.MaxLength == nil {
		return errs
	}

	if f.Type != FieldTypeString && f.Type != FieldTypeText && f.Type != FieldTypeNanoID {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: "minLength/maxLength can only be used with string, text, or nanoid types",
		})
	}

	if f.MinLength != nil && *f.MinLength < 0 {
		errs = append(errs, &ValidationError{
			Path:    path + ".minLength",
			Message: "must be non-negative",
		})
	}

	if f.MaxLength != nil && *f.MaxLength < 1 {
		errs = append(errs, &ValidationError{
			Path:    path + ".maxLength",
			Message: "must be at least 1",
		})
	}

	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: "minLength cannot be greater than maxLength",
		})
	}

	return errs
}

func validateFieldValidation(path string, f *Field) ValidationErrors {
	var errs ValidationErrors
	v := f.Validate

	if v.Format != "" {
		validFormats := map[string]bool{"email": true, "url": true, "uuid": true}
		if !validFormats[v.Format] {
			errs = append(errs, &ValidationError{
				Path:    path + ".format",
				Message: "must be one of: email, url, uuid",
			})
		}
	}

	if v.Pattern != "" {
		if _, err := regexp.Compile(v.Pattern); err != nil {
			errs = append(errs, &ValidationError{
				Path:    path + ".pattern",
				Message: fmt.Sprintf("invalid regex pattern: %v", err),
			})
		}
	}

	if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: "min cannot be greater than max",
		})
	}

	if (v.Min != nil || v.Max != nil) && f.Type != FieldTypeInt && f.Type != FieldTypeFloat {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: "min/max can only be used with int or float types",
		})
	}

	return errs
}

func validateBucket(name string, b *Bucket) ValidationErrors {
	var errs ValidationErrors
	path := fmt.Sprintf("buckets.%s", name)

	if !IdentifierRegex.MatchString(name) {
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: "name must start with lowercase letter and contain only lowercase letters, numbers, and underscores",
		})
	}

	if b.Backend == "" {
		errs = append(errs, &ValidationError{
			Path:    path + ".backend",
			Message: "backend is required",
		})
	}

	if b.MaxFileSize < 0 {
		errs = append(errs, &ValidationError{
			Path:    path + ".max_file_size",
			Message: "must be non-negative",
		})
	}

	if b.MaxTotalSize < 0 {
		errs = append(errs, &ValidationError{
			Path:    path + ".max_total_size",
			Message: "must be non-negative",
		})
	}

	for i, mimeType := range b.AllowedTypes {
		parts := strings.Split(mimeType, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			errs = append(errs, &ValidationError{
				Path:    fmt.Sprintf("%s.allowed_types[%d]", path, i),
				Message: fmt.Sprintf("invalid MIME type %q; expected type/subtype", mimeType),
			})
		}
	}

	for i, pattern := range b.AllowedNames {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, &ValidationError{
				Path:    fmt.Sprintf("%s.allowed_names[%d]", path, i),
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	if b.Upload != nil {
		u := b.Upload
		errs = append(errs, validateAlphabetOptions(path+".upload", u.Alphabet, u.AlphabetPredefined, u.Size)...)
		if strings.HasPrefix(u.Path, "/") || strings.Contains(u.Path, "..") {
			errs = append(errs, &ValidationError{
				Path:    path + ".upload.path",
				Message: "must be a relative path without '..'",
			})
		}
	}

	return errs
}
