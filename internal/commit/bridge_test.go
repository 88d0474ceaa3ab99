package commit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/conneroisu/sowing/internal/document"
	sowerrors "github.com/conneroisu/sowing/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submission struct {
	method string
	form   url.Values
}

func recordingServer(t *testing.T, status int) (*httptest.Server, func() []submission) {
	t.Helper()
	var mu sync.Mutex
	var got []submission

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		got = append(got, submission{method: r.Method, form: r.PostForm})
		mu.Unlock()

		if status == http.StatusSeeOther {
			http.Redirect(w, r, "/main/wiki/home", http.StatusSeeOther)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	return server, func() []submission {
		mu.Lock()
		defer mu.Unlock()
		return append([]submission(nil), got...)
	}
}

func TestCommitAddsHiddenCommentOnce(t *testing.T) {
	server, submissions := recordingServer(t, http.StatusSeeOther)

	form := NewHTTPForm(server.URL+"/main/edit/home", "post", server.Client(),
		Field{Name: ContentField, Type: "textarea", Value: "stale"})
	doc := document.NewBuffer("fresh text")
	bridge := NewBridge(doc, form, nil)

	target, err := bridge.Commit(context.Background(), "fix typo")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/main/wiki/home", target)
	assert.True(t, bridge.Committed())

	fields := form.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, Field{Name: CommentField, Type: "hidden", Value: "fix typo"}, fields[1])

	doc.SetText("fresher text")
	_, err = bridge.Commit(context.Background(), "second")
	require.NoError(t, err)
	assert.Len(t, form.Fields(), 2, "the hidden field is reused")

	subs := submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, http.MethodPost, subs[0].method)
	assert.Equal(t, "fresh text", subs[0].form.Get(ContentField))
	assert.Equal(t, []string{"fix typo"}, subs[0].form[CommentField])
	assert.Equal(t, "fresher text", subs[1].form.Get(ContentField))
	assert.Equal(t, []string{"second"}, subs[1].form[CommentField])
}

func TestCommitReusesExistingCommentField(t *testing.T) {
	server, submissions := recordingServer(t, http.StatusOK)

	form := NewHTTPForm(server.URL+"/save", "", nil,
		Field{Name: "comment", Type: "hidden", Value: "old"},
		Field{Name: ContentField, Type: "textarea"},
		Field{Name: "csrf", Type: "hidden", Value: "token"})

	_, err := NewBridge(document.NewBuffer("body"), form, nil).Commit(context.Background(), "new")
	require.NoError(t, err)

	assert.Len(t, form.Fields(), 3)
	sub := submissions()[0]
	assert.Equal(t, []string{"new"}, sub.form["comment"])
	assert.Equal(t, "token", sub.form.Get("csrf"))
}

func TestCommitWithoutForm(t *testing.T) {
	_, err := NewBridge(document.NewBuffer(""), nil, nil).Commit(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoForm)

	form := NewHTTPForm("http://127.0.0.1:1/save", "post", nil, Field{Name: "title"})
	_, err = NewBridge(document.NewBuffer(""), form, nil).Commit(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoForm)
}

func TestCommitServerError(t *testing.T) {
	server, _ := recordingServer(t, http.StatusInternalServerError)

	form := NewHTTPForm(server.URL, "post", nil, Field{Name: ContentField})
	bridge := NewBridge(document.NewBuffer("text"), form, nil)

	_, err := bridge.Commit(context.Background(), "c")
	require.Error(t, err)
	assert.True(t, sowerrors.IsNetworkError(err))
	assert.False(t, bridge.Committed())
}

func TestHTTPFormGetSubmission(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
	}))
	defer server.Close()

	form := NewHTTPForm(server.URL+"/search?lang=en", "get", nil, Field{Name: "q", Value: "sowing"})
	_, err := form.Submit(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "sowing", query.Get("q"))
	assert.Equal(t, "en", query.Get("lang"))
}
