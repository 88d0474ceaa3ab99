// Package preview keeps a rendered preview in step with a document that is
// being edited: changes are debounced by a Scheduler, sent to the wiki's
// preview endpoint by a Fetcher, and written to a Surface by a Renderer.
// Pipeline ties the three together and discards results that arrive after
// a newer one has been shown.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	sowerrors "github.com/conneroisu/sowing/internal/errors"
)

// PreviewPath is the server endpoint that renders raw markup.
const PreviewPath = "/_preview"

var (
	// ErrPreviewServer reports a non-200 answer from the preview endpoint.
	ErrPreviewServer = errors.New("server returned error")
	// ErrPreviewUnreachable reports a transport failure.
	ErrPreviewUnreachable = errors.New("could not reach server")
)

// ServerError carries the status code of a failed preview request. It
// matches ErrPreviewServer under errors.Is.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: status %d", ErrPreviewServer, e.StatusCode)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrPreviewServer
}

// Result is the outcome of one preview request. Exactly one of HTML and Err
// is meaningful.
type Result struct {
	Seq  uint64
	HTML string
	Err  error
}

// OK reports whether the result carries markup.
func (r Result) OK() bool {
	return r.Err == nil
}

// Fetcher turns a snapshot into rendered markup.
type Fetcher interface {
	Fetch(ctx context.Context, snapshot string) Result
}

// HTTPFetcher posts snapshots to {base}/_preview.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPFetcher creates a fetcher for the wiki at baseURL. A nil client
// uses http.DefaultClient; no timeout is added beyond the client's own.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		endpoint: strings.TrimRight(baseURL, "/") + PreviewPath,
		client:   client,
	}
}

// Fetch issues exactly one request and never retries.
func (f *HTTPFetcher) Fetch(ctx context.Context, snapshot string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, strings.NewReader(snapshot))
	if err != nil {
		return Result{Err: unreachable(err)}
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Err: unreachable(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Result{Err: &ServerError{StatusCode: resp.StatusCode}}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Err: unreachable(err)}
	}

	return Result{HTML: string(body)}
}

func unreachable(cause error) error {
	return fmt.Errorf("%w: %w", ErrPreviewUnreachable,
		sowerrors.NewNetworkError(sowerrors.ErrCodePreviewTransport, "preview request failed", cause))
}
