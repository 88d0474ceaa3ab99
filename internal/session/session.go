// Package session wires one editing session: a host page, the document
// that edits it, the live preview pipeline, the upload coordinator and the
// submission bridge.
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/sowing/internal/attach"
	"github.com/conneroisu/sowing/internal/commit"
	"github.com/conneroisu/sowing/internal/document"
	sowerrors "github.com/conneroisu/sowing/internal/errors"
	"github.com/conneroisu/sowing/internal/hostpage"
	"github.com/conneroisu/sowing/internal/logging"
	"github.com/conneroisu/sowing/internal/preview"
)

// Ref names a page as silo/path.
type Ref struct {
	Silo string
	Path string
}

// ParseRef parses "silo/path/to/page". Outer slashes are trimmed; an empty
// segment anywhere else is rejected.
func ParseRef(s string) (Ref, error) {
	s = strings.Trim(strings.TrimSpace(s), "/")
	silo, path, ok := strings.Cut(s, "/")
	if !ok || silo == "" || path == "" || strings.Contains(s, "//") {
		return Ref{}, sowerrors.ErrInvalidPage(s).WithContext("hint", "use <silo>/<page>, e.g. main/home")
	}
	return Ref{Silo: silo, Path: path}, nil
}

func (r Ref) String() string { return r.Silo + "/" + r.Path }

// EditURL is the host page for the ref on the wiki at base.
func (r Ref) EditURL(base string) string {
	return r.route(base, "edit")
}

// WikiURL is the rendered page for the ref on the wiki at base.
func (r Ref) WikiURL(base string) string {
	return r.route(base, "wiki")
}

func (r Ref) route(base, kind string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(r.Silo) + "/" + kind + "/" + escapePath(r.Path)
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// Options configure a session. Zero values fall back to sensible defaults.
type Options struct {
	// BaseURL of the wiki. Defaults to the scheme and host of the page URL.
	BaseURL  string
	Client   *http.Client
	Debounce time.Duration
	Logger   logging.Logger
	Picker   attach.FilePicker
	Alerter  attach.Alerter
}

// Session owns the core components bound to one page.
type Session struct {
	Page     *hostpage.Page
	Pipeline *preview.Pipeline
	Uploads  *attach.Coordinator
	Bridge   *commit.Bridge

	doc       document.Document
	logger    logging.Logger
	closeOnce sync.Once
}

// New binds doc to page. surface receives preview markup.
func New(page *hostpage.Page, doc document.Document, surface preview.Surface, opts Options) (*Session, error) {
	if page == nil {
		return nil, commit.ErrNoForm
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	base := opts.BaseURL
	if base == "" {
		if page.URL == nil {
			return nil, sowerrors.NewConfigError(sowerrors.ErrCodeConfigInvalid, "no base URL for the preview and upload endpoints")
		}
		base = (&url.URL{Scheme: page.URL.Scheme, Host: page.URL.Host}).String()
	}

	logger := opts.Logger.With("page", page.ActionURL())
	s := &Session{
		Page: page,
		Pipeline: preview.NewPipeline(
			preview.NewHTTPFetcher(base, opts.Client),
			surface,
			preview.WithDelay(opts.Debounce),
			preview.WithLogger(logger),
		),
		Uploads: attach.NewCoordinator(doc, opts.Picker, attach.NewHTTPUploader(base, opts.Client), opts.Alerter, logger),
		Bridge:  commit.NewBridge(doc, page.Form(opts.Client), logger),
		doc:     doc,
		logger:  logger.WithComponent("session"),
	}
	return s, nil
}

// Open loads the host page at pageURL and binds a fresh buffer holding its
// content. It suits hosts without their own widget.
func Open(ctx context.Context, pageURL string, surface preview.Surface, opts Options) (*Session, *document.Buffer, error) {
	page, err := hostpage.Fetch(ctx, opts.Client, pageURL)
	if err != nil {
		return nil, nil, err
	}
	buf := document.NewBuffer(page.Content)
	s, err := New(page, buf, surface, opts)
	if err != nil {
		return nil, nil, err
	}
	buf.OnChange(s.Changed)
	return s, buf, nil
}

// Start renders the initial preview.
func (s *Session) Start() {
	s.Pipeline.Refresh(s.doc.Text())
}

// Changed forwards a content change to the preview pipeline.
func (s *Session) Changed(text string) {
	s.Pipeline.Changed(text)
}

// Attach runs the pick, upload and insert flow.
func (s *Session) Attach(ctx context.Context) error {
	return s.Uploads.StartUpload(ctx)
}

// Commit submits the document with comment and ends the session.
func (s *Session) Commit(ctx context.Context, comment string) (string, error) {
	if s.Uploads.Active() {
		s.logger.Warn(ctx, attach.ErrUploadInFlight, "committing while an upload is pending")
	}
	target, err := s.Bridge.Commit(ctx, comment)
	if err != nil {
		return "", fmt.Errorf("commit %s: %w", s.Page.ActionURL(), err)
	}
	s.Close()
	return target, nil
}

// Close stops the preview pipeline.
func (s *Session) Close() {
	s.closeOnce.Do(s.Pipeline.Close)
}
