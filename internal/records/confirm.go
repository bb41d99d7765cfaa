package records

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirmer asks for approval before a destructive operation.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to a Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// PromptConfirmer writes the prompt to Out and reads one line from In.
// Only "y" or "Y" counts as approval. It is not safe for concurrent use.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader

	// pending carries a line read for a call whose context ended first; the
	// next call receives it.
	pending chan lineResult
}

type lineResult struct {
	line string
	err  error
}

func (p *PromptConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if _, err := fmt.Fprint(p.Out, prompt); err != nil {
		return false, err
	}

	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	if p.pending == nil {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := p.reader.ReadString('\n')
			ch <- lineResult{line: line, err: err}
		}()
		p.pending = ch
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-p.pending:
		p.pending = nil
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return false, res.err
		}
		answer := strings.TrimSpace(res.line)
		return answer == "y" || answer == "Y", nil
	}
}

func regeneratePrompt(collection, field string, pk any) string {
	return fmt.Sprintf(`You are about to regenerate %s.%s for record %v.
Existing links, bookmarks or external systems that use the current
identifier will stop working. Records in this database that reference it
are updated automatically.

Type 'y' to confirm: `, collection, field, pk)
}
