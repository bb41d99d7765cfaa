// Package alphabet holds the character sets used to build NanoIDs.
//
// Characters are split into "safe" and "unsafe" groups. Safe characters
// avoid glyphs that are easily confused when read by humans (1/I/l, 0/O,
// 2/Z, 5/S and so on). Predefined alphabets combine these groups and can be
// selected by name from configuration or schema files.
package alphabet

import (
	"errors"
	"fmt"
	"sort"
)

// Uppercase character groups.
const (
	UppercaseNumbersSafe   = "34679"
	UppercaseNumbersUnsafe = "01258"
	UppercaseLettersSafe   = "ACDEFGHKLMNPRTUVWXY"
	UppercaseLettersUnsafe = "BIJOQSZ"
)

// Lowercase character groups.
const (
	LowercaseNumbersSafe   = "347"
	LowercaseNumbersUnsafe = "0125689"
	LowercaseLettersSafe   = "acdefhjkmnprtuvwxy"
	LowercaseLettersUnsafe = "bgiloqsz"
)

const Numbers = "0123456789"

// Combined groups.
const (
	SafeNumbers     = UppercaseNumbersSafe + LowercaseNumbersSafe
	SafeUppercase   = UppercaseLettersSafe
	SafeLowercase   = LowercaseLettersSafe
	UnsafeNumbers   = UppercaseNumbersUnsafe + LowercaseNumbersUnsafe
	UnsafeUppercase = UppercaseLettersUnsafe
	UnsafeLowercase = LowercaseLettersUnsafe
)

// Names of the predefined alphabets.
const (
	Safe                           = "safe"
	Unsafe                         = "unsafe"
	NumbersOnly                    = "numbers"
	SafeLetters                    = "safe_letters"
	SafeLettersUppercase           = "safe_letters_uppercase"
	SafeLettersLowercase           = "safe_letters_lowercase"
	SafeLettersUppercaseAndNumbers = "safe_letters_uppercase_and_numbers"
	SafeLettersLowercaseAndNumbers = "safe_letters_lowercase_and_numbers"
)

// Default is the alphabet name used when nothing else is configured.
const Default = Safe

var ErrUnknownAlphabet = errors.New("unknown predefined alphabet")

var predefined = map[string]string{
	Safe:                           SafeUppercase + SafeLowercase + LowercaseNumbersSafe,
	Unsafe:                         SafeNumbers + UnsafeNumbers + SafeUppercase + UnsafeUppercase + SafeLowercase + UnsafeLowercase,
	NumbersOnly:                    Numbers,
	SafeLetters:                    SafeUppercase + SafeLowercase,
	SafeLettersUppercase:           SafeUppercase,
	SafeLettersLowercase:           SafeLowercase,
	SafeLettersUppercaseAndNumbers: SafeUppercase + UppercaseNumbersSafe,
	SafeLettersLowercaseAndNumbers: SafeLowercase + LowercaseNumbersSafe,
}

// Lookup returns the characters of a predefined alphabet.
func Lookup(name string) (string, bool) {
	chars, ok := predefined[name]
	return chars, ok
}

// Names returns the predefined alphabet names in sorted order.
func Names() []string {
	names := make([]string, 0, len(predefined))
	for name := range predefined {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the characters to generate from. A custom alphabet wins,
// then a predefined name, and finally the safe alphabet.
func Resolve(custom, predefinedName string) (string, error) {
	if custom != "" {
		return custom, nil
	}
	if predefinedName == "" {
		return predefined[Default], nil
	}
	chars, ok := predefined[predefinedName]
	if !ok {
		return "", fmt.Errorf("%w %q: choose one of %v", ErrUnknownAlphabet, predefinedName, Names())
	}
	return chars, nil
}
