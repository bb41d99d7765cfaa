package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/watzon/nanofield/internal/alphabet"
)

const linksSchema = `
version: 1

collections:
  users:
    fields:
      id:
        type: nanoid
        primary: true
        nanoid:
          size: 12
      handle:
        type: nanoid
        nanoid:
          alphabet_predefined: safe_letters_lowercase
          size: 8
      email:
        type: string
        unique: true
        index: true
      name:
        type: string
        nullable: true
      created_at:
        type: timestamp
        default: now
  links:
    fields:
      id:
        type: int
        primary: true
      code:
        type: nanoid
      tag:
        type: nanoid
        unique: false
        editable: true
        nanoid:
          alphabet: "abc"
          size: 3
      owner:
        type: string
        nullable: true
        references: users.handle
        onDelete: set null
`

func TestParseSchema(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	if schema.Version != 1 {
		t.Errorf("expected version 1, got %d", schema.Version)
	}

	users, ok := schema.Collections["users"]
	if !ok {
		t.Fatal("users collection not found")
	}

	if len(users.Fields) != 5 {
		t.Errorf("expected 5 fields, got %d", len(users.Fields))
	}

	idField := users.Fields["id"]
	if idField.Type != FieldTypeNanoID {
		t.Errorf("expected id type nanoid, got %s", idField.Type)
	}
	if !idField.Primary {
		t.Error("expected id to be primary")
	}

	emailField := users.Fields["email"]
	if !emailField.Unique {
		t.Error("expected email to be unique")
	}
	if !emailField.Index {
		t.Error("expected email to be indexed")
	}
	if !emailField.Editable {
		t.Error("expected non-nanoid fields to be editable by default")
	}

	nameField := users.Fields["name"]
	if !nameField.Nullable {
		t.Error("expected name to be nullable")
	}
}

func TestParseSchema_NanoIDDefaults(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	code := schema.Collections["links"].Fields["code"]
	if !code.Unique {
		t.Error("expected nanoid field to be unique by default")
	}
	if code.Editable {
		t.Error("expected nanoid field to be non-editable by default")
	}
	if code.NanoID.AlphabetPredefined != alphabet.Safe {
		t.Errorf("expected safe alphabet, got %q", code.NanoID.AlphabetPredefined)
	}
	if code.NanoID.Size != 5 {
		t.Errorf("expected size 5, got %d", code.NanoID.Size)
	}
	if code.MaxLength == nil || *code.MaxLength != 5 {
		t.Errorf("expected max length to follow size, got %v", code.MaxLength)
	}

	tag := schema.Collections["links"].Fields["tag"]
	if tag.Unique {
		t.Error("expected explicit unique: false to win")
	}
	if !tag.Editable {
		t.Error("expected explicit editable: true to win")
	}
	if tag.NanoID.AlphabetPredefined != "" {
		t.Errorf("expected no predefined alphabet with a custom one, got %q", tag.NanoID.AlphabetPredefined)
	}
}

func TestParseWithDefaults_Size(t *testing.T) {
	schema, err := ParseWithDefaults([]byte(linksSchema), Defaults{Size: 21})
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	if got := schema.Collections["links"].Fields["code"].Size(); got != 21 {
		t.Errorf("expected configured size 21, got %d", got)
	}
	if got := schema.Collections["users"].Fields["id"].Size(); got != 12 {
		t.Errorf("expected explicit size 12 to win, got %d", got)
	}
}

func TestParseSchema_NanoIDDefaultIgnored(t *testing.T) {
	yaml := `
version: 1
collections:
  links:
    fields:
      code:
        type: nanoid
        primary: true
        default: "abcde"
`
	schema, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	if schema.Collections["links"].Fields["code"].HasDefault() {
		t.Error("expected nanoid default to be cleared")
	}
}

func TestFieldOrder(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	expected := []string{"id", "code", "tag", "owner"}
	order := schema.Collections["links"].FieldOrder()
	if len(order) != len(expected) {
		t.Fatalf("expected %d fields, got %d", len(expected), len(order))
	}
	for i, name := range expected {
		if order[i] != name {
			t.Errorf("expected field %d to be %q, got %q", i, name, order[i])
		}
	}
}

func TestDeconstruct(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	def := schema.Collections["users"].Fields["handle"].Deconstruct()
	expected := Definition{
		Type:               FieldTypeNanoID,
		AlphabetPredefined: alphabet.SafeLettersLowercase,
		Size:               8,
		Unique:             true,
		Editable:           false,
		MaxLength:          8,
	}
	if def != expected {
		t.Errorf("unexpected definition:\n got: %+v\nwant: %+v", def, expected)
	}
}

func TestNanoIDGenerator(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	gen, err := schema.Collections["links"].Fields["tag"].NanoIDGenerator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.Alphabet != "abc" || gen.Size != 3 {
		t.Errorf("unexpected generator %+v", gen)
	}

	id, err := gen.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != 3 || strings.Trim(id, "abc") != "" {
		t.Errorf("unexpected id %q", id)
	}

	if _, err := schema.Collections["users"].Fields["email"].NanoIDGenerator(); err == nil {
		t.Error("expected error for non-nanoid field")
	}
}

func TestReverseRelations(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	rels := schema.ReverseRelations("users", "handle")
	if len(rels) != 1 {
		t.Fatalf("expected 1 relation, got %d", len(rels))
	}
	if rels[0] != (Relation{Collection: "links", Field: "owner"}) {
		t.Errorf("unexpected relation %+v", rels[0])
	}

	if rels := schema.ReverseRelations("users", "id"); len(rels) != 0 {
		t.Errorf("expected no relations on users.id, got %v", rels)
	}
}

func TestCollectionFieldSets(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	links := schema.Collections["links"]

	var names []string
	for _, f := range links.NanoIDFields() {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "code,tag" {
		t.Errorf("unexpected nanoid fields %v", names)
	}

	names = nil
	for _, f := range links.UniqueNanoIDFields() {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "code" {
		t.Errorf("unexpected unique nanoid fields %v", names)
	}
}

func TestStripNonEditable(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	row := schema.Collections["links"].StripNonEditable(map[string]any{
		"id":    1,
		"code":  "XXXXX",
		"tag":   "abc",
		"extra": true,
	})

	if _, ok := row["code"]; ok {
		t.Error("expected non-editable code to be removed")
	}
	for _, key := range []string{"id", "tag", "extra"} {
		if _, ok := row[key]; !ok {
			t.Errorf("expected %q to be kept", key)
		}
	}
}

func TestValidation_MissingPrimaryKey(t *testing.T) {
	yaml := `
version: 1
collections:
  users:
    fields:
      name:
        type: string
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Error("expected validation error for missing primary key")
	}
}

func TestValidation_InvalidFieldType(t *testing.T) {
	yaml := `
version: 1
collections:
  users:
    fields:
      id:
        type: invalid_type
        primary: true
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Error("expected validation error for invalid field type")
	}
}

func TestValidation_InvalidReference(t *testing.T) {
	yaml := `
version: 1
collections:
  posts:
    fields:
      id:
        type: nanoid
        primary: true
      author_id:
        type: string
        references: nonexistent.id
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Error("expected validation error for invalid reference")
	}
}

func TestValidation_ReservedCollectionName(t *testing.T) {
	yaml := `
version: 1
collections:
  _nanofield_files:
    fields:
      id:
        type: nanoid
        primary: true
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Error("expected validation error for reserved collection name")
	}
}

func TestValidation_NanoIDOptions(t *testing.T) {
	tests := []struct {
		name    string
		options string
		wantErr string
	}{
		{"zero size", "size: -1", "size"},
		{"unknown predefined", "alphabet_predefined: klingon", "alphabet_predefined"},
		{"single character alphabet", `alphabet: "a"`, "alphabet"},
		{"valid custom", `alphabet: "ab"`, ""},
		{"valid predefined", "alphabet_predefined: numbers", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := `
version: 1
collections:
  links:
    fields:
      id:
        type: nanoid
        primary: true
        nanoid:
          ` + tt.options + `
`
			_, err := Parse([]byte(yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected validation errors, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error about %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidation_NanoIDConfigOnOtherType(t *testing.T) {
	yaml := `
version: 1
collections:
  links:
    fields:
      id:
        type: string
        primary: true
        nanoid:
          size: 5
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "nanoid config") {
		t.Errorf("expected nanoid config error, got %v", err)
	}
}

func TestValidation_NanoIDReference(t *testing.T) {
	yaml := `
version: 1
collections:
  users:
    fields:
      id:
        type: nanoid
        primary: true
  posts:
    fields:
      id:
        type: nanoid
        primary: true
      author:
        type: nanoid
        references: users.id
`
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "cannot reference") {
		t.Errorf("expected reference error, got %v", err)
	}
}

func TestSQLGenerator_CreateTable(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	gen := NewSQLGenerator(schema)
	sql := gen.GenerateCreateTable(schema.Collections["links"])

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS links",
		"id INTEGER PRIMARY KEY",
		"code TEXT UNIQUE CHECK (length(code) <= 5)",
		"tag TEXT CHECK (length(tag) <= 3)",
		"FOREIGN KEY (owner) REFERENCES users(handle) ON DELETE SET NULL",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("expected SQL to contain %q, got:\n%s", want, sql)
		}
	}

	if strings.Contains(sql, "code TEXT NOT NULL") {
		t.Errorf("nanoid columns must start out nullable:\n%s", sql)
	}
}

func TestSQLGenerator_PrimaryNanoID(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	sql := NewSQLGenerator(schema).GenerateCreateTable(schema.Collections["users"])
	if !strings.Contains(sql, "id TEXT PRIMARY KEY CHECK (length(id) <= 12)") {
		t.Errorf("unexpected primary key definition:\n%s", sql)
	}
}

func TestSQLGenerator_CreationOrder(t *testing.T) {
	schema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	statements := NewSQLGenerator(schema).GenerateAll()
	usersAt, linksAt := -1, -1
	for i, stmt := range statements {
		if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS users") {
			usersAt = i
		}
		if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS links") {
			linksAt = i
		}
	}
	if usersAt < 0 || linksAt < 0 || usersAt > linksAt {
		t.Errorf("expected users before links, got users=%d links=%d", usersAt, linksAt)
	}
}

func TestSQLGenerator_Triggers(t *testing.T) {
	yaml := `
version: 1
collections:
  posts:
    fields:
      id:
        type: nanoid
        primary: true
      updated_at:
        type: timestamp
        default: now
        onUpdate: now
`
	schema, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	triggers := NewSQLGenerator(schema).GenerateTriggers(schema.Collections["posts"])
	if len(triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(triggers))
	}
	if !strings.Contains(triggers[0], "posts_auto_update_timestamp") {
		t.Errorf("unexpected trigger:\n%s", triggers[0])
	}
}

func TestDiff_AddCollection(t *testing.T) {
	oldSchema := &Schema{Version: 1, Collections: map[string]*Collection{}}
	newSchema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	changes := Diff(oldSchema, newSchema)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].Type != ChangeAddCollection || changes[0].Collection != "links" {
		t.Errorf("unexpected first change %s", changes[0])
	}
	if !changes[0].Safe {
		t.Error("expected adding a collection to be safe")
	}
}

func TestDiff_AddNanoIDField(t *testing.T) {
	oldYAML := `
version: 1
collections:
  links:
    fields:
      id:
        type: int
        primary: true
`
	newYAML := oldYAML + `      code:
        type: nanoid
`
	oldSchema, err := Parse([]byte(oldYAML))
	if err != nil {
		t.Fatalf("failed to parse old schema: %v", err)
	}
	newSchema, err := Parse([]byte(newYAML))
	if err != nil {
		t.Fatalf("failed to parse new schema: %v", err)
	}

	changes := Diff(oldSchema, newSchema)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	if changes[0].Type != ChangeAddField || !changes[0].Safe {
		t.Errorf("expected safe add field, got %+v", changes[0])
	}
}

func TestDiff_NanoIDOptions(t *testing.T) {
	base := `
version: 1
collections:
  links:
    fields:
      id:
        type: int
        primary: true
      code:
        type: nanoid
        nanoid:
`
	oldSchema, err := Parse([]byte(base + "          size: 5\n"))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	alphabetChange, err := Parse([]byte(base + "          size: 5\n          alphabet_predefined: numbers\n"))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	changes := Diff(oldSchema, alphabetChange)
	if len(changes) != 1 || changes[0].Type != ChangeModifyNanoID || !changes[0].Safe {
		t.Errorf("expected one safe nanoid change, got %v", changes)
	}

	sizeChange, err := Parse([]byte(base + "          size: 8\n"))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	changes = Diff(oldSchema, sizeChange)
	if len(changes) != 1 || changes[0].Safe {
		t.Errorf("expected one unsafe nanoid change, got %v", changes)
	}

	if changes := Diff(oldSchema, oldSchema); len(changes) != 0 {
		t.Errorf("expected no changes, got %v", changes)
	}
}

func TestDiff_DropCollection(t *testing.T) {
	newSchema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	oldSchema, err := Parse([]byte(linksSchema))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	delete(newSchema.Collections, "links")

	changes := Diff(oldSchema, newSchema)
	if len(changes) != 1 || changes[0].Type != ChangeDropCollection {
		t.Fatalf("expected drop collection, got %v", changes)
	}
	if len(changes.Unsafe()) != 1 {
		t.Error("expected dropping a collection to be unsafe")
	}
}

func TestDiff_ConstraintEditsAreUnsafe(t *testing.T) {
	base := `
version: 1
collections:
  links:
    fields:
      id:
        type: int
        primary: true
      url:
        type: string
`
	oldSchema, err := Parse([]byte(base))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}

	for name, extra := range map[string]string{
		"nullable": "        nullable: true\n",
		"unique":   "        unique: true\n",
	} {
		newSchema, err := Parse([]byte(base + extra))
		if err != nil {
			t.Fatalf("%s: failed to parse schema: %v", name, err)
		}
		changes := Diff(oldSchema, newSchema)
		if len(changes) != 1 || changes[0].Type != ChangeModifyField || changes[0].Safe {
			t.Errorf("%s: expected one unsafe field change, got %v", name, changes)
		}
	}

	retyped, err := Parse([]byte(strings.Replace(base, "type: string", "type: email", 1)))
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	if changes := Diff(oldSchema, retyped); len(changes) != 0 {
		t.Errorf("expected text to text retype to need nothing, got %v", changes)
	}
}

func TestFieldType_SQLiteType(t *testing.T) {
	tests := []struct {
		fieldType FieldType
		expected  string
	}{
		{FieldTypeUUID, "TEXT"},
		{FieldTypeNanoID, "TEXT"},
		{FieldTypeString, "TEXT"},
		{FieldTypeInt, "INTEGER"},
		{FieldTypeFloat, "REAL"},
		{FieldTypeBool, "INTEGER"},
		{FieldTypeTimestamp, "TEXT"},
		{FieldTypeBlob, "BLOB"},
	}

	for _, tt := range tests {
		if got := tt.fieldType.SQLiteType(); got != tt.expected {
			t.Errorf("%s.SQLiteType() = %s, want %s", tt.fieldType, got, tt.expected)
		}
	}
}
