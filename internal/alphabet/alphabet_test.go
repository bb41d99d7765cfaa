package alphabet

import (
	"errors"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		custom     string
		predefined string
		want       string
	}{
		{"custom wins", "ABC123", "numbers", "ABC123"},
		{"predefined", "", "numbers", "0123456789"},
		{"default safe", "", "", "ACDEFGHKLMNPRTUVWXYacdefhjkmnprtuvwxy347"},
		{"uppercase and numbers", "", "safe_letters_uppercase_and_numbers", "ACDEFGHKLMNPRTUVWXY34679"},
		{"lowercase and numbers", "", "safe_letters_lowercase_and_numbers", "acdefhjkmnprtuvwxy347"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.custom, tt.predefined)
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_Unknown(t *testing.T) {
	_, err := Resolve("", "emoji")
	if !errors.Is(err, ErrUnknownAlphabet) {
		t.Fatalf("expected ErrUnknownAlphabet, got %v", err)
	}
	if !strings.Contains(err.Error(), "emoji") {
		t.Errorf("error should name the alphabet: %v", err)
	}
}

func TestUnsafeAlphabet(t *testing.T) {
	chars, ok := Lookup(Unsafe)
	if !ok {
		t.Fatal("unsafe alphabet missing")
	}
	if !strings.HasPrefix(chars, "34679347") {
		t.Errorf("unsafe alphabet should start with the safe numbers, got %q", chars)
	}
	if len(chars) != 72 {
		t.Errorf("expected 72 characters, got %d", len(chars))
	}
}

func TestSafeAlphabetsExcludeConfusables(t *testing.T) {
	for _, name := range Names() {
		if name == Unsafe || name == NumbersOnly {
			continue
		}
		chars, _ := Lookup(name)
		if strings.ContainsAny(chars, "01IOlo") {
			t.Errorf("alphabet %s contains confusable characters: %q", name, chars)
		}
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 8 {
		t.Fatalf("expected 8 predefined alphabets, got %d", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}
