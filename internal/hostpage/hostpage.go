// Package hostpage reads the wiki's edit page and binds the editing core to
// it by stable element identifiers.
package hostpage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/sowing/internal/commit"
	sowerrors "github.com/conneroisu/sowing/internal/errors"
)

// Element identifiers of the host page.
const (
	ContentID    = "content"
	EditorID     = "editor"
	PreviewID    = "preview-content"
	SaveButtonID = "finalSaveButton"
	CommentID    = "modalComment"
	FormID       = "editForm"
)

const maxPageSize = 16 << 20

// Page is the parsed edit page.
type Page struct {
	// URL the page was loaded from; the form action resolves against it.
	URL *url.URL

	Action string
	Method string
	Fields []commit.Field

	// Content is the initial document, taken from the #content textarea.
	Content string
	// Comment is the current value of the #modalComment input.
	Comment string

	HasEditor     bool
	HasPreview    bool
	HasSaveButton bool
}

// Fetch loads and parses the edit page at pageURL.
func Fetch(ctx context.Context, client *http.Client, pageURL string) (*Page, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return nil, sowerrors.NewNetworkError(sowerrors.ErrCodeHostPageInvalid, "could not load edit page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, sowerrors.NewNotFoundError(sowerrors.ErrCodePageNotFound, "edit page not found: "+pageURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, sowerrors.NewNetworkError(sowerrors.ErrCodeHostPageInvalid,
			fmt.Sprintf("edit page returned %d", resp.StatusCode), nil)
	}

	page, err := Parse(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, err
	}
	page.URL = resp.Request.URL
	return page, nil
}

// Parse reads a host page. The form and the content textarea are required;
// the other identifiers are reported through the Has* flags.
func Parse(r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, sowerrors.NewValidationError(sowerrors.ErrCodeHostPageInvalid, "malformed edit page").
			WithContext("cause", err.Error())
	}

	ids := indexByID(doc)

	form, ok := ids[FormID]
	if !ok || form.Data != "form" {
		return nil, sowerrors.NewValidationError(sowerrors.ErrCodeHostPageInvalid, "edit page has no #"+FormID+" form")
	}
	content, ok := ids[ContentID]
	if !ok || content.Data != "textarea" {
		return nil, sowerrors.NewValidationError(sowerrors.ErrCodeHostPageInvalid, "edit page has no #"+ContentID+" textarea")
	}

	page := &Page{
		Action:        attr(form, "action"),
		Method:        strings.ToUpper(attr(form, "method")),
		Fields:        formFields(form),
		Content:       textContent(content),
		HasEditor:     ids[EditorID] != nil,
		HasPreview:    ids[PreviewID] != nil,
		HasSaveButton: ids[SaveButtonID] != nil,
	}
	if page.Method == "" {
		page.Method = http.MethodGet
	}
	if comment, ok := ids[CommentID]; ok {
		page.Comment = controlValue(comment)
	}

	return page, nil
}

// ActionURL resolves the form action against the page URL.
func (p *Page) ActionURL() string {
	if p.URL == nil {
		return p.Action
	}
	ref, err := url.Parse(p.Action)
	if err != nil {
		return p.Action
	}
	return p.URL.ResolveReference(ref).String()
}

// Form builds the submittable form bound to this page.
func (p *Page) Form(client *http.Client) *commit.HTTPForm {
	return commit.NewHTTPForm(p.ActionURL(), p.Method, client, p.Fields...)
}

func indexByID(root *html.Node) map[string]*html.Node {
	ids := make(map[string]*html.Node)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if id := attr(n, "id"); id != "" {
				if _, seen := ids[id]; !seen {
					ids[id] = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return ids
}

// formFields lists the successful-control candidates of form in document
// order. Buttons and unnamed controls are skipped.
func formFields(form *html.Node) []commit.Field {
	var fields []commit.Field
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n != form {
			name := attr(n, "name")
			switch n.Data {
			case "input":
				typ := strings.ToLower(attr(n, "type"))
				if name != "" && typ != "submit" && typ != "button" && typ != "file" {
					if (typ == "checkbox" || typ == "radio") && !hasAttr(n, "checked") {
						break
					}
					if typ == "" {
						typ = "text"
					}
					fields = append(fields, commit.Field{Name: name, Type: typ, Value: attr(n, "value")})
				}
			case "textarea":
				if name != "" {
					fields = append(fields, commit.Field{Name: name, Type: "textarea", Value: textContent(n)})
				}
			case "select":
				if name != "" {
					fields = append(fields, commit.Field{Name: name, Type: "select", Value: selectedOption(n)})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
	return fields
}

func controlValue(n *html.Node) string {
	if n.Data == "textarea" {
		return textContent(n)
	}
	return attr(n, "value")
}

func selectedOption(sel *html.Node) string {
	var options []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "option" {
			options = append(options, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel)

	for _, o := range options {
		if hasAttr(o, "selected") {
			return optionValue(o)
		}
	}
	if len(options) > 0 {
		return optionValue(options[0])
	}
	return ""
}

func optionValue(n *html.Node) string {
	if hasAttr(n, "value") {
		return attr(n, "value")
	}
	return strings.TrimSpace(textContent(n))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// textContent concatenates the text below n. The parser already drops the
// newline right after <textarea>.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
