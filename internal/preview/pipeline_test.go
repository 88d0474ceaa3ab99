package preview

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedFetcher holds every request until its gate is opened.
type gatedFetcher struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	calls []string
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{gates: make(map[string]chan struct{})}
}

func (f *gatedFetcher) gate(snapshot string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[snapshot]
	if !ok {
		g = make(chan struct{})
		f.gates[snapshot] = g
	}
	return g
}

func (f *gatedFetcher) open(snapshot string) {
	close(f.gate(snapshot))
}

func (f *gatedFetcher) Fetch(ctx context.Context, snapshot string) Result {
	f.mu.Lock()
	f.calls = append(f.calls, snapshot)
	f.mu.Unlock()

	select {
	case <-f.gate(snapshot):
		return Result{HTML: "<p>" + snapshot + "</p>"}
	case <-ctx.Done():
		return Result{Err: ErrPreviewUnreachable}
	}
}

type recordingSurface struct {
	mu      sync.Mutex
	history []string
}

func (s *recordingSurface) SetHTML(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, html)
}

func (s *recordingSurface) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return ""
	}
	return s.history[len(s.history)-1]
}

func (s *recordingSurface) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

func TestPipelineDiscardsOlderResult(t *testing.T) {
	fetcher := newGatedFetcher()
	surface := &recordingSurface{}
	p := NewPipeline(fetcher, surface)
	defer p.Close()

	p.Refresh("S1")
	p.Refresh("S2")

	fetcher.open("S2")
	require.Eventually(t, func() bool { return surface.current() == "<p>S2</p>" }, time.Second, 5*time.Millisecond)

	fetcher.open("S1")
	p.Wait()

	assert.Equal(t, []string{"<p>S2</p>"}, surface.all())
	assert.Equal(t, uint64(2), p.LastApplied())
}

func TestPipelineAppliesInOrderArrivals(t *testing.T) {
	fetcher := newGatedFetcher()
	surface := &recordingSurface{}
	p := NewPipeline(fetcher, surface)
	defer p.Close()

	p.Refresh("S1")
	p.Refresh("S2")

	fetcher.open("S1")
	require.Eventually(t, func() bool { return surface.current() == "<p>S1</p>" }, time.Second, 5*time.Millisecond)
	fetcher.open("S2")
	p.Wait()

	assert.Equal(t, []string{"<p>S1</p>", "<p>S2</p>"}, surface.all())
}

func TestPipelineDebouncesChanges(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		_, _ = w.Write([]byte("<p>rendered</p>"))
	}))
	defer server.Close()

	surface := &recordingSurface{}
	p := NewPipeline(NewHTTPFetcher(server.URL, server.Client()), surface, WithDelay(30*time.Millisecond))
	defer p.Close()

	for _, text := range []string{"h", "he", "hel", "hell", "hello"} {
		p.Changed(text)
	}

	require.Eventually(t, func() bool { return surface.current() == "<p>rendered</p>" }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello"}, bodies)
}

func TestPipelineServerErrorPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	surface := &recordingSurface{}
	p := NewPipeline(NewHTTPFetcher(server.URL, server.Client()), surface)
	defer p.Close()

	assert.NotPanics(t, func() {
		p.Refresh("anything")
		p.Wait()
	})
	assert.Equal(t, ServerErrorPlaceholder, surface.current())
}

func TestPipelineUnreachablePlaceholder(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	surface := &recordingSurface{}
	p := NewPipeline(NewHTTPFetcher(url, nil), surface)
	defer p.Close()

	p.Refresh("anything")
	p.Wait()

	assert.Equal(t, UnreachablePlaceholder, surface.current())
}

func TestPipelineCloseDropsInFlight(t *testing.T) {
	fetcher := newGatedFetcher()
	surface := &recordingSurface{}
	p := NewPipeline(fetcher, surface)

	p.Refresh("pending")
	p.Changed("scheduled")
	p.Close()

	assert.Empty(t, surface.all())

	p.Changed("after close")
	p.Refresh("after close")
	assert.Empty(t, surface.all())
}

func (f *gatedFetcher) called(snapshot string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == snapshot {
			return true
		}
	}
	return false
}

func TestPipelineRefreshOutranksDebouncedChange(t *testing.T) {
	fetcher := newGatedFetcher()
	surface := &recordingSurface{}
	p := NewPipeline(fetcher, surface, WithDelay(5*time.Millisecond))
	defer p.Close()

	p.Changed("typed")
	require.Eventually(t, func() bool { return fetcher.called("typed") }, time.Second, 2*time.Millisecond)
	p.Refresh("reloaded")

	fetcher.open("reloaded")
	require.Eventually(t, func() bool { return surface.current() == "<p>reloaded</p>" }, time.Second, 5*time.Millisecond)
	fetcher.open("typed")
	p.Wait()

	assert.Equal(t, []string{"<p>reloaded</p>"}, surface.all())
	assert.Equal(t, uint64(2), p.LastApplied())
}
