// Package upload names uploaded files after generated identifiers so that
// stored objects never collide.
package upload

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/watzon/nanofield/internal/nanoid"
	"github.com/watzon/nanofield/internal/schema"
)

// PathFunc returns the storage path for an uploaded file.
type PathFunc func(ctx context.Context, filename string) (string, error)

// Options configure UploadTo.
type Options struct {
	// Path is the directory objects are stored under.
	Path string

	// PreserveOriginalFilename stores objects as Path/<id>/<filename>
	// instead of Path/<id><ext>.
	PreserveOriginalFilename bool

	// RemoveQueryStrings drops everything from the first "?" in the
	// filename. Use NewOptions to get it enabled.
	RemoveQueryStrings bool

	Alphabet           string
	AlphabetPredefined string
	Size               int

	// Exists reports whether a path is already taken in storage. Paths are
	// never checked when nil.
	Exists nanoid.ExistsFunc

	MaxAttempts int
}

// NewOptions returns options with query string removal enabled and the
// default size.
func NewOptions(base string) Options {
	return Options{
		Path:               base,
		RemoveQueryStrings: true,
		Size:               nanoid.DefaultSize,
		MaxAttempts:        nanoid.DefaultMaxAttempts,
	}
}

// FromConfig overlays a bucket's upload block on base, which carries the
// configured defaults and the existence check.
func FromConfig(cfg *schema.UploadConfig, base Options) Options {
	opts := base
	if cfg == nil {
		return opts
	}

	opts.Path = cfg.Path
	opts.PreserveOriginalFilename = cfg.PreserveOriginalFilename
	opts.RemoveQueryStrings = cfg.StripQueryStrings()
	if cfg.Alphabet != "" || cfg.AlphabetPredefined != "" {
		opts.Alphabet = cfg.Alphabet
		opts.AlphabetPredefined = cfg.AlphabetPredefined
	}
	if cfg.Size > 0 {
		opts.Size = cfg.Size
	}
	return opts
}

// UploadTo returns a PathFunc that places each file under a fresh
// identifier, retrying while the resulting path already exists.
func UploadTo(opts Options) PathFunc {
	return func(ctx context.Context, filename string) (string, error) {
		size := opts.Size
		if size == 0 {
			size = nanoid.DefaultSize
		}
		gen, err := nanoid.NewGenerator(opts.Alphabet, opts.AlphabetPredefined, size)
		if err != nil {
			return "", err
		}

		if opts.RemoveQueryStrings {
			filename = StripQuery(filename)
		}

		exists := opts.Exists
		if exists == nil {
			exists = func(context.Context, string) (bool, error) { return false, nil }
		}

		p, err := nanoid.Attempt{
			Gen:         gen,
			MaxAttempts: opts.MaxAttempts,
			Kind:        nanoid.KindUpload,
			Subject:     fmt.Sprintf("file %q", filename),
			Build: func(id string) string {
				return BuildPath(opts.Path, id, filename, opts.PreserveOriginalFilename)
			},
			Exists: exists,
		}.Run(ctx)
		if err != nil {
			return "", err
		}
		return p, nil
	}
}

// StripQuery removes everything from the first "?".
func StripQuery(filename string) string {
	if i := strings.IndexByte(filename, '?'); i >= 0 {
		return filename[:i]
	}
	return filename
}

// BuildPath joins base and id with either the original filename (spaces
// replaced by underscores) or the filename's lowercased extension.
func BuildPath(base, id, filename string, preserve bool) string {
	if preserve {
		return path.Join(base, id, strings.ReplaceAll(path.Base(filepath.ToSlash(filename)), " ", "_"))
	}
	return path.Join(base, id+extension(filename))
}

// extension returns the lowercased extension of filename. Leading dots
// belong to the name, so ".bashrc" has none.
func extension(filename string) string {
	name := strings.TrimLeft(path.Base(filepath.ToSlash(filename)), ".")
	if ext := path.Ext(name); ext != "." {
		return strings.ToLower(ext)
	}
	return ""
}
