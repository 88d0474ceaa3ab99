// Package attach uploads a user-chosen file and inserts a reference to it
// into the document at the caret position captured when the upload began.
//
// Blocking hosts call Coordinator.StartUpload. Event-loop hosts drive the
// same flow step by step: Begin captures the caret, Pending.Upload runs off
// the UI thread, and Complete, Fail or Cancel finish it on the UI thread.
package attach

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/conneroisu/sowing/internal/document"
	"github.com/conneroisu/sowing/internal/logging"
)

var (
	// ErrUploadInFlight is returned by Begin while another upload is pending.
	ErrUploadInFlight = errors.New("an upload is already in progress")
	// ErrCancelled is returned by a FilePicker when the user dismissed it.
	ErrCancelled = errors.New("upload cancelled")
	// ErrUploadFailed wraps every transport or server failure of an upload.
	ErrUploadFailed = errors.New("upload failed")
	// ErrNotPending is returned when a finished Pending is used again.
	ErrNotPending = errors.New("upload already finished")
)

// Token is the inline reference inserted for an uploaded file.
func Token(locator string) string {
	return "[[" + locator + "]]"
}

// FilePicker asks the user for a file.
type FilePicker interface {
	Pick(ctx context.Context) (File, error)
}

// Uploader stores a file and returns the locator the server assigned.
type Uploader interface {
	Upload(ctx context.Context, file File) (string, error)
}

// Alerter shows a blocking notice to the user.
type Alerter interface {
	Alert(message string)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(message string)

func (f AlerterFunc) Alert(message string) { f(message) }

// Coordinator allows at most one pending upload per document.
type Coordinator struct {
	doc      document.Document
	picker   FilePicker
	uploader Uploader
	alerter  Alerter
	logger   logging.Logger

	mu      sync.Mutex
	pending *Pending
}

// NewCoordinator creates a coordinator. picker may be nil for hosts that
// only use Begin.
func NewCoordinator(doc document.Document, picker FilePicker, uploader Uploader, alerter Alerter, logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	if alerter == nil {
		alerter = AlerterFunc(func(string) {})
	}
	return &Coordinator{
		doc:      doc,
		picker:   picker,
		uploader: uploader,
		alerter:  alerter,
		logger:   logger.WithComponent("attach"),
	}
}

// StartUpload runs the whole flow: pick, upload, insert. A dismissed picker
// is not an error and leaves no trace. Failures are shown through the
// Alerter and returned.
func (c *Coordinator) StartUpload(ctx context.Context) error {
	if c.picker == nil {
		return fmt.Errorf("no file picker configured")
	}

	p, err := c.Begin()
	if err != nil {
		return err
	}

	file, err := c.picker.Pick(ctx)
	if errors.Is(err, ErrCancelled) {
		p.Cancel()
		return nil
	}
	if err != nil {
		p.Fail(err)
		return err
	}

	locator, err := p.Upload(ctx, file)
	if err != nil {
		p.Fail(err)
		return err
	}

	return p.Complete(locator)
}

// Begin captures the caret and reserves the single upload slot.
func (c *Coordinator) Begin() (*Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		return nil, ErrUploadInFlight
	}
	c.pending = &Pending{c: c, caret: c.doc.Caret()}
	return c.pending, nil
}

// Active reports whether an upload is pending.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Coordinator) release(p *Pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		return false
	}
	c.pending = nil
	return true
}

// Pending is one upload between Begin and its outcome.
type Pending struct {
	c     *Coordinator
	caret int
	file  File
}

// Caret is the insertion point captured by Begin.
func (p *Pending) Caret() int { return p.caret }

// File is the file handed to Upload, if any.
func (p *Pending) File() File { return p.file }

// Upload sends file to the server. It does not touch the document and is
// safe to run off the UI thread.
func (p *Pending) Upload(ctx context.Context, file File) (string, error) {
	p.file = file
	p.c.logger.Info(ctx, "uploading attachment", "file", file.Name, "caret", p.caret)

	locator, err := p.c.uploader.Upload(ctx, file)
	if err != nil {
		if !errors.Is(err, ErrUploadFailed) {
			err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
		return "", err
	}
	return locator, nil
}

// Complete inserts the token for locator at the captured caret.
func (p *Pending) Complete(locator string) error {
	if !p.c.release(p) {
		return ErrNotPending
	}
	p.c.doc.InsertAt(p.caret, Token(locator))
	p.c.logger.Info(context.Background(), "attachment inserted", "locator", locator, "caret", p.caret)
	return nil
}

// Fail notifies the user and leaves the document unmodified.
func (p *Pending) Fail(err error) {
	if !p.c.release(p) {
		return
	}
	p.c.logger.Warn(context.Background(), err, "upload failed", "file", p.file.Name)
	p.c.alerter.Alert("Upload failed: " + err.Error())
}

// Cancel drops the upload without notifying anyone.
func (p *Pending) Cancel() {
	p.c.release(p)
}
