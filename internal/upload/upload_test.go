package upload

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/nanofield/internal/alphabet"
	"github.com/watzon/nanofield/internal/nanoid"
	"github.com/watzon/nanofield/internal/schema"
)

func TestUploadTo_ExtensionOnly(t *testing.T) {
	fn := UploadTo(NewOptions("avatars"))

	p, err := fn(context.Background(), "Holiday Photo.JPG?size=large")
	require.NoError(t, err)

	chars, _ := alphabet.Lookup(alphabet.Default)
	pattern := regexp.MustCompile(`^avatars/[` + chars + `]{5}\.jpg$`)
	assert.Regexp(t, pattern, p)
}

func TestUploadTo_PreserveOriginalFilename(t *testing.T) {
	opts := NewOptions("docs")
	opts.PreserveOriginalFilename = true
	opts.AlphabetPredefined = alphabet.NumbersOnly
	opts.Size = 8

	p, err := UploadTo(opts)(context.Background(), "annual report.pdf?x=1")
	require.NoError(t, err)

	assert.Regexp(t, `^docs/[0-9]{8}/annual_report\.pdf$`, p)
}

func TestUploadTo_KeepsQueryStrings(t *testing.T) {
	opts := NewOptions("raw")
	opts.PreserveOriginalFilename = true
	opts.RemoveQueryStrings = false

	p, err := UploadTo(opts)(context.Background(), "a.txt?v=2")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, "/a.txt?v=2"), p)
}

func TestUploadTo_RetriesTakenPaths(t *testing.T) {
	opts := NewOptions("files")
	opts.Alphabet = "xy"
	opts.Size = 1

	var checked []string
	opts.Exists = func(_ context.Context, p string) (bool, error) {
		checked = append(checked, p)
		return p == "files/x.txt", nil
	}
	opts.MaxAttempts = 50

	p, err := UploadTo(opts)(context.Background(), "notes.TXT")
	require.NoError(t, err)
	assert.Equal(t, "files/y.txt", p)
	assert.Contains(t, checked, "files/y.txt")
}

func TestUploadTo_Exhausted(t *testing.T) {
	opts := NewOptions("files")
	opts.Exists = func(context.Context, string) (bool, error) { return true, nil }

	_, err := UploadTo(opts)(context.Background(), "taken.png")

	var exhausted *nanoid.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, nanoid.DefaultMaxAttempts, exhausted.Attempts)
	assert.Contains(t, err.Error(), `"taken.png"`)
	assert.Contains(t, err.Error(), "increase the NanoID size")
}

func TestUploadTo_CheckerError(t *testing.T) {
	boom := errors.New("storage offline")
	opts := NewOptions("files")
	opts.Exists = func(context.Context, string) (bool, error) { return false, boom }

	_, err := UploadTo(opts)(context.Background(), "a.png")
	assert.ErrorIs(t, err, boom)
}

func TestUploadTo_UnknownAlphabet(t *testing.T) {
	opts := NewOptions("files")
	opts.AlphabetPredefined = "nope"

	_, err := UploadTo(opts)(context.Background(), "a.png")
	assert.ErrorIs(t, err, alphabet.ErrUnknownAlphabet)
}

func TestStripQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a.png", "a.png"},
		{"a.png?x=1", "a.png"},
		{"a.png?x=1?y=2", "a.png"},
		{"?only", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripQuery(tt.in), tt.in)
	}
}

func TestBuildPath(t *testing.T) {
	assert.Equal(t, "base/abc.gz", BuildPath("base", "abc", "archive.tar.GZ", false))
	assert.Equal(t, "abc", BuildPath("", "abc", "README", false))
	assert.Equal(t, "media/abc", BuildPath("media", "abc", ".bashrc", false), "a dotfile has no extension")
	assert.Equal(t, "media/abc", BuildPath("media", "abc", "..hidden", false))
	assert.Equal(t, "media/abc.yml", BuildPath("media", "abc", ".config.YML", false))
	assert.Equal(t, "media/abc", BuildPath("media", "abc", "notes.", false))
	assert.Equal(t, "media/abc.png", BuildPath("media", "abc", `C:\Users\me\Photo.PNG`, false))
	assert.Equal(t, "media/abc", BuildPath("media", "abc", "dir.d/Makefile", false), "dots in directories are ignored")
	assert.Equal(t, "base/abc/my_file.txt", BuildPath("base", "abc", "my file.txt", true))
	assert.Equal(t, "base/abc/evil.txt", BuildPath("base", "abc", "../../evil.txt", true))
}

func TestFromConfig(t *testing.T) {
	keep := false
	base := NewOptions("")
	base.AlphabetPredefined = alphabet.NumbersOnly

	opts := FromConfig(&schema.UploadConfig{
		Path:                     "media",
		PreserveOriginalFilename: true,
		RemoveQueryStrings:       &keep,
		Size:                     12,
	}, base)

	assert.Equal(t, "media", opts.Path)
	assert.True(t, opts.PreserveOriginalFilename)
	assert.False(t, opts.RemoveQueryStrings)
	assert.Equal(t, 12, opts.Size)
	assert.Equal(t, alphabet.NumbersOnly, opts.AlphabetPredefined, "configured alphabet is kept when the bucket sets none")

	opts = FromConfig(&schema.UploadConfig{Alphabet: "ab"}, base)
	assert.Equal(t, "ab", opts.Alphabet)
	assert.Empty(t, opts.AlphabetPredefined)

	assert.Equal(t, base, FromConfig(nil, base))
}
