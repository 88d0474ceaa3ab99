package tui

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sowing/internal/hostpage"
)

type fakeWiki struct {
	mu        sync.Mutex
	submitted url.Values
	failPut   bool
}

func (f *fakeWiki) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /main/edit/home", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<form id="editForm" action="/main/edit/home" method="post">
<div id="editor"><textarea id="content" name="content">Hello world</textarea></div>
<input id="modalComment"><button id="finalSaveButton" type="button">Save</button>
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
		_, _ = io.WriteString(w, "<h1>Preview</h1><p>"+string(body)+"</p>")
	})
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.failPut
		f.mu.Unlock()
		if fail {
			http.Error(w, "disk full", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"url": "/uploads/cafe-1.png"}`)
	})
	return mux
}

func newTestModel(t *testing.T) (*model, *fakeWiki) {
	t.Helper()
	wiki := &fakeWiki{}
	server := httptest.NewServer(wiki.handler())
	t.Cleanup(server.Close)

	opts := Options{
		PageURL:  server.URL + "/main/edit/home",
		Client:   server.Client(),
		Debounce: 10 * time.Millisecond,
		StartDir: t.TempDir(),
	}
	page, err := hostpage.Fetch(context.Background(), opts.Client, opts.PageURL)
	require.NoError(t, err)

	m, err := newModel(context.Background(), page, opts)
	require.NoError(t, err)
	t.Cleanup(m.close)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, wiki
}

func press(m *model, msg tea.KeyMsg) tea.Cmd {
	_, cmd := m.Update(msg)
	return cmd
}

func typeText(m *model, s string) {
	for _, r := range s {
		press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func TestTypingUpdatesBufferAndSummary(t *testing.T) {
	m, _ := newTestModel(t)
	assert.Equal(t, "Hello world", m.buf.Text())
	assert.Equal(t, "unchanged", m.summary)

	typeText(m, "!!")

	assert.Equal(t, "Hello world!!", m.buf.Text())
	assert.Equal(t, 13, m.buf.Caret())
	assert.Equal(t, "+2 -0", m.summary)
}

func TestPreviewArrivesInViewport(t *testing.T) {
	m, _ := newTestModel(t)
	m.Init()

	msg := m.waitForPreview()()
	require.IsType(t, previewMsg(""), msg)

	_, cmd := m.Update(msg)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.viewport.View(), "# Preview")
	assert.Contains(t, m.viewport.View(), "Hello world")
}

func TestRelayKeepsNewestPreview(t *testing.T) {
	m, _ := newTestModel(t)
	m.relayPreview("<p>old</p>")
	m.relayPreview("<p>new</p>")
	assert.Equal(t, previewMsg("<p>new</p>"), m.waitForPreview()())
}

func TestAttachCancel(t *testing.T) {
	m, _ := newTestModel(t)

	press(m, tea.KeyMsg{Type: tea.KeyCtrlO})
	assert.Equal(t, modePick, m.mode)
	assert.True(t, m.sess.Uploads.Active())

	press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeEdit, m.mode)
	assert.False(t, m.sess.Uploads.Active())
	assert.Equal(t, "Hello world", m.buf.Text())
}

func writeAttachment(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "diagram.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))
	return path
}

func TestUploadInsertsTokenAtCaret(t *testing.T) {
	m, _ := newTestModel(t)
	setEditor(&m.editor, m.buf.Text(), 6)
	m.syncBuffer()
	require.Equal(t, 6, m.buf.Caret())

	press(m, tea.KeyMsg{Type: tea.KeyCtrlO})
	require.Equal(t, modePick, m.mode)

	done := m.upload(writeAttachment(t))()
	m.Update(done)

	assert.Equal(t, "Hello [[/uploads/cafe-1.png]]world", m.buf.Text())
	assert.Equal(t, m.buf.Text(), m.editor.Value())
	assert.Equal(t, modeEdit, m.mode)
	assert.False(t, m.sess.Uploads.Active())
	assert.Empty(t, m.alert)
}

func TestUploadFailureAlerts(t *testing.T) {
	m, wiki := newTestModel(t)
	wiki.mu.Lock()
	wiki.failPut = true
	wiki.mu.Unlock()

	press(m, tea.KeyMsg{Type: tea.KeyCtrlO})
	m.Update(m.upload(writeAttachment(t))())

	assert.Contains(t, m.alert, "Upload failed:")
	assert.Equal(t, "Hello world", m.buf.Text())
	assert.False(t, m.sess.Uploads.Active())
}

func TestSecondAttachWhileUploading(t *testing.T) {
	m, _ := newTestModel(t)
	press(m, tea.KeyMsg{Type: tea.KeyCtrlO})
	cmd := m.upload(writeAttachment(t))

	press(m, tea.KeyMsg{Type: tea.KeyCtrlO})
	assert.Equal(t, modeEdit, m.mode)
	assert.NotEmpty(t, m.alert)

	m.Update(cmd())
	assert.Contains(t, m.buf.Text(), "[[/uploads/cafe-1.png]]")
}

func TestCommitResult(t *testing.T) {
	m, wiki := newTestModel(t)
	typeText(m, ", again")

	press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	typeText(m, "tweak")
	cmd := press(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, commitDoneMsg{}, msg)
	_, quit := m.Update(msg)
	require.NotNil(t, quit)
	assert.Equal(t, tea.QuitMsg{}, quit())

	assert.True(t, m.result.Committed)
	assert.Contains(t, m.result.Target, "/main/wiki/home")

	wiki.mu.Lock()
	defer wiki.mu.Unlock()
	assert.Equal(t, "Hello world, again", wiki.submitted.Get("content"))
	assert.Equal(t, "tweak", wiki.submitted.Get("comment"))
}

func TestCommentEscapeReturnsToEditor(t *testing.T) {
	m, _ := newTestModel(t)
	press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeEdit, m.mode)
	assert.True(t, m.editor.Focused())
}

func TestCommitFailureShowsError(t *testing.T) {
	m, _ := newTestModel(t)
	m.mode = modeSaving
	m.Update(commitDoneMsg{err: assert.AnError})
	assert.Equal(t, modeEdit, m.mode)
	assert.Contains(t, m.alert, "Save failed")
	assert.False(t, m.result.Committed)
}

func TestEditorCaretRoundTrip(t *testing.T) {
	text := "first line\nsecond\n\nlast ünïcode line"
	ta := textarea.New()
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.SetWidth(80)
	ta.Focus()

	for _, caret := range []int{0, 3, 10, 11, 17, 18, 19, 24, 36} {
		setEditor(&ta, text, caret)
		assert.Equal(t, caret, editorCaret(ta), "caret %d", caret)
	}

	setEditor(&ta, text, 1000)
	assert.Equal(t, 36, editorCaret(ta))
}

func TestViewShowsModes(t *testing.T) {
	m, _ := newTestModel(t)
	assert.Contains(t, m.View(), "ctrl+s save")

	press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Contains(t, m.View(), "Comment:")

	press(m, tea.KeyMsg{Type: tea.KeyEsc})
	press(m, tea.KeyMsg{Type: tea.KeyCtrlO})
	assert.Contains(t, m.View(), "Attach a file")
}
