package hostpage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/conneroisu/sowing/internal/commit"
	sowerrors "github.com/conneroisu/sowing/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const editPage = `<!DOCTYPE html>
<html><body>
<div class="container">
  <form id="editForm" action="/main/edit/home" method="post">
    <input type="hidden" name="csrf" value="t0k3n">
    <div id="editor"><textarea id="content" name="content">* Home
Welcome &amp; hello</textarea></div>
    <select name="visibility"><option value="public">Public</option><option value="private" selected>Private</option></select>
    <input type="checkbox" name="minor">
    <button type="button" id="openSave">Save</button>
  </form>
  <div id="preview-content"></div>
  <input id="modalComment" type="text" value="draft comment">
  <button id="finalSaveButton">Save</button>
</div>
</body></html>`

func TestParse(t *testing.T) {
	page, err := Parse(strings.NewReader(editPage))
	require.NoError(t, err)

	assert.Equal(t, "/main/edit/home", page.Action)
	assert.Equal(t, http.MethodPost, page.Method)
	assert.Equal(t, "* Home\nWelcome & hello", page.Content)
	assert.Equal(t, "draft comment", page.Comment)
	assert.True(t, page.HasEditor)
	assert.True(t, page.HasPreview)
	assert.True(t, page.HasSaveButton)

	assert.Equal(t, []commit.Field{
		{Name: "csrf", Type: "hidden", Value: "t0k3n"},
		{Name: "content", Type: "textarea", Value: "* Home\nWelcome & hello"},
		{Name: "visibility", Type: "select", Value: "private"},
	}, page.Fields)
}

func TestParseMissingElements(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{"no form", `<textarea id="content"></textarea>`},
		{"no content", `<form id="editForm"><input name="x"></form>`},
		{"content is not a textarea", `<form id="editForm"><div id="content"></div></form>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.page))
			require.Error(t, err)
			var se *sowerrors.SowingError
			assert.ErrorAs(t, err, &se)
			assert.Equal(t, sowerrors.ErrCodeHostPageInvalid, se.Code)
		})
	}
}

func TestParseDefaultsToGet(t *testing.T) {
	page, err := Parse(strings.NewReader(`<form id="editForm"><textarea id="content" name="content"></textarea></form>`))
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, page.Method)
	assert.False(t, page.HasPreview)
}

func TestFetchResolvesAction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/main/edit/home" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(editPage))
	}))
	defer server.Close()

	page, err := Fetch(context.Background(), server.Client(), server.URL+"/main/edit/home")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/main/edit/home", page.ActionURL())

	form := page.Form(server.Client())
	field, ok := form.Field("content")
	require.True(t, ok)
	assert.Equal(t, page.Content, field.Value)

	_, err = Fetch(context.Background(), server.Client(), server.URL+"/main/edit/missing")
	assert.True(t, sowerrors.IsNotFound(err))
}
