package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/conneroisu/sowing/internal/attach"
	"github.com/conneroisu/sowing/internal/preview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWiki struct {
	mu        sync.Mutex
	previews  []string
	submitted url.Values
}

func (f *fakeWiki) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /main/edit/home", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<form id="editForm" action="/main/edit/home" method="post">
<div id="editor"><textarea id="content" name="content">Hello world</textarea></div>
</form><div id="preview-content"></div>`)
	})
	mux.HandleFunc("POST /main/edit/home", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.submitted = r.PostForm
		f.mu.Unlock()
		http.Redirect(w, r, "/main/wiki/home", http.StatusSeeOther)
	})
	mux.HandleFunc("POST /_preview", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.previews = append(f.previews, string(body))
		f.mu.Unlock()
		_, _ = io.WriteString(w, "<p>"+string(body)+"</p>")
	})
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"url": "/uploads/cafe-1.png"}`)
	})
	return mux
}

type surface struct {
	mu   sync.Mutex
	html string
}

func (s *surface) SetHTML(html string) {
	s.mu.Lock()
	s.html = html
	s.mu.Unlock()
}

func (s *surface) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

func TestSessionRoundTrip(t *testing.T) {
	wiki := &fakeWiki{}
	server := httptest.NewServer(wiki.handler())
	defer server.Close()

	ref, err := ParseRef("main/home")
	require.NoError(t, err)

	out := &surface{}
	s, buf, err := Open(context.Background(), ref.EditURL(server.URL), out, Options{
		Client:   server.Client(),
		Debounce: 20 * time.Millisecond,
		Picker:   attach.NewQueuePicker(attach.BytesFile("diagram.png", []byte("png"))),
	})
	require.NoError(t, err)
	defer s.Close()

	s.Start()
	s.Pipeline.Wait()
	assert.Equal(t, "<p>Hello world</p>", out.get())

	buf.SetCaret(6)
	require.NoError(t, s.Attach(context.Background()))
	assert.Equal(t, "Hello [[/uploads/cafe-1.png]]world", buf.Text())

	require.Eventually(t, func() bool {
		return out.get() == "<p>Hello [[/uploads/cafe-1.png]]world</p>"
	}, time.Second, 5*time.Millisecond)

	target, err := s.Commit(context.Background(), "add diagram")
	require.NoError(t, err)
	assert.Equal(t, ref.WikiURL(server.URL), target)

	wiki.mu.Lock()
	defer wiki.mu.Unlock()
	assert.Equal(t, "Hello [[/uploads/cafe-1.png]]world", wiki.submitted.Get("content"))
	assert.Equal(t, "add diagram", wiki.submitted.Get("comment"))
}

func TestSessionPreviewFailureShowsPlaceholder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /main/edit/home", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<form id="editForm" method="post"><textarea id="content" name="content">x</textarea></form>`)
	})
	mux.HandleFunc("POST /_preview", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	out := &surface{}
	s, _, err := Open(context.Background(), server.URL+"/main/edit/home", out, Options{})
	require.NoError(t, err)
	defer s.Close()

	s.Start()
	s.Pipeline.Wait()

	assert.Equal(t, preview.ServerErrorPlaceholder, out.get())
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		input   string
		want    Ref
		wantErr bool
	}{
		{"main/home", Ref{"main", "home"}, false},
		{"/docs/guides/install/", Ref{"docs", "guides/install"}, false},
		{"main", Ref{}, true},
		{"main/", Ref{}, true},
		{"/home", Ref{}, true},
		{"a/b//c", Ref{}, true},
		{"main//x", Ref{}, true},
		{"//main//x", Ref{}, true},
		{"main///", Ref{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRef(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefURLs(t *testing.T) {
	ref := Ref{Silo: "main", Path: "guides/getting started"}
	assert.Equal(t, "http://wiki/main/edit/guides/getting%20started", ref.EditURL("http://wiki/"))
	assert.Equal(t, "http://wiki/main/wiki/guides/getting%20started", ref.WikiURL("http://wiki"))
	assert.Equal(t, "main/guides/getting started", ref.String())
}
