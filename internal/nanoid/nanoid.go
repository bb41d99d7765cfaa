// Package nanoid generates short random identifiers and finds ones that are
// not already taken.
package nanoid

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/watzon/nanofield/internal/alphabet"
	"github.com/watzon/nanofield/internal/metrics"
)

const (
	// DefaultSize is the identifier length used when none is configured.
	DefaultSize = 5

	// DefaultMaxAttempts bounds the collision retry loop.
	DefaultMaxAttempts = 10
)

// Metric labels for what a generated value is used for.
const (
	KindField  = "field"
	KindUpload = "upload"
)

var (
	ErrInvalidSize = errors.New("nanoid size must be at least 1")
	ErrExhausted   = errors.New("no unique nanoid could be generated")
)

// Generate returns a random identifier of size characters drawn from chars.
func Generate(chars string, size int) (string, error) {
	if size < 1 {
		return "", ErrInvalidSize
	}
	return gonanoid.Generate(chars, size)
}

// Generator produces identifiers from a fixed alphabet and size.
type Generator struct {
	Alphabet string
	Size     int
}

// NewGenerator resolves the alphabet (custom, then predefined, then safe)
// and returns a generator for it.
func NewGenerator(custom, predefined string, size int) (Generator, error) {
	if size < 1 {
		return Generator{}, ErrInvalidSize
	}
	chars, err := alphabet.Resolve(custom, predefined)
	if err != nil {
		return Generator{}, err
	}
	return Generator{Alphabet: chars, Size: size}, nil
}

func (g Generator) New() (string, error) {
	return Generate(g.Alphabet, g.Size)
}

// ExistsFunc reports whether a candidate value is already taken.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// ExhaustedError is returned when every attempt produced a taken value.
type ExhaustedError struct {
	Subject  string
	Size     int
	Attempts int
	Last     string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf(
		"no unique NanoID could be generated for %s after %d attempts (last %q, size %d); "+
			"increase the NanoID size or use a larger alphabet to improve uniqueness",
		e.Subject, e.Attempts, e.Last, e.Size)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhausted
}

// Unique returns the first id from gen that exists reports as free, trying
// at most maxAttempts times.
func Unique(ctx context.Context, gen Generator, exists ExistsFunc, maxAttempts int) (string, error) {
	return Attempt{
		Gen:         gen,
		MaxAttempts: maxAttempts,
		Kind:        KindField,
		Subject:     "nanoid",
		Exists:      exists,
	}.Run(ctx)
}

// Attempt describes one bounded search for an unused value.
type Attempt struct {
	Gen         Generator
	MaxAttempts int

	// Kind labels metrics ("field" or "upload").
	Kind string

	// Subject names what the value is for in logs and errors.
	Subject string

	// Build maps a generated id to the value that is checked and returned.
	// The id itself is used when nil.
	Build func(id string) string

	Exists ExistsFunc
}

// Run generates candidates until Exists reports one as free. Errors from
// Exists abort the search.
func (a Attempt) Run(ctx context.Context) (string, error) {
	maxAttempts := a.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	var candidate string
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id, err := a.Gen.New()
		if err != nil {
			return "", fmt.Errorf("generating nanoid: %w", err)
		}
		metrics.RecordGenerated(a.Kind)

		candidate = id
		if a.Build != nil {
			candidate = a.Build(id)
		}

		taken, err := a.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", a.Subject, err)
		}
		if !taken {
			log.Debug().
				Str("nanoid", id).
				Str("subject", a.Subject).
				Msg("Generated unique NanoID")
			return candidate, nil
		}

		metrics.RecordCollision(a.Kind)
		log.Debug().
			Str("nanoid", id).
			Str("subject", a.Subject).
			Int("attempt", i+1).
			Msg("NanoID already taken, generating another")
	}

	metrics.RecordExhausted(a.Kind)
	log.Debug().
		Str("nanoid", candidate).
		Str("subject", a.Subject).
		Msg("NanoID already taken, giving up")

	return "", &ExhaustedError{
		Subject:  a.Subject,
		Size:     a.Gen.Size,
		Attempts: maxAttempts,
		Last:     candidate,
	}
}
