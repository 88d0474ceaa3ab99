// Package commit copies the editor's document into the host page's save
// form, adds the commit comment as a hidden field, and submits the form.
package commit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/conneroisu/sowing/internal/logging"
)

// Names of the form controls the bridge writes.
const (
	ContentField = "content"
	CommentField = "comment"
)

// ErrNoForm is returned when there is no form, or the form has no content
// control, to submit to.
var ErrNoForm = errors.New("no edit form to submit")

// TextSource is the part of a document the bridge reads.
type TextSource interface {
	Text() string
}

// Bridge submits one editing session.
type Bridge struct {
	doc    TextSource
	form   Form
	logger logging.Logger

	mu        sync.Mutex
	committed bool
}

func NewBridge(doc TextSource, form Form, logger logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bridge{doc: doc, form: form, logger: logger.WithComponent("commit")}
}

// Commit writes the current text and comment into the form and submits
// it. The returned string is where the submission navigates to. The text
// is read at call time, never cached.
func (b *Bridge) Commit(ctx context.Context, comment string) (string, error) {
	if b.form == nil {
		return "", ErrNoForm
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	content, ok := b.form.Field(ContentField)
	if !ok {
		return "", fmt.Errorf("%w: missing %q field", ErrNoForm, ContentField)
	}
	content.Value = b.doc.Text()

	hidden := ensureHidden(b.form, CommentField)
	hidden.Value = comment

	b.logger.Info(ctx, "submitting revision", "bytes", len(content.Value), "comment", comment)

	target, err := b.form.Submit(ctx)
	if err != nil {
		b.logger.Error(ctx, err, "submission failed")
		return "", fmt.Errorf("submit: %w", err)
	}

	b.committed = true
	return target, nil
}

// Committed reports whether a submission has gone through. The session is
// over once it has.
func (b *Bridge) Committed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// ensureHidden returns the existing control named name or adds a hidden
// one, so repeated commits never create duplicates.
func ensureHidden(form Form, name string) *Field {
	if field, ok := form.Field(name); ok {
		return field
	}
	return form.AddHidden(name)
}
