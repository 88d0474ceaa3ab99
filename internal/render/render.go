// Package render converts page source to HTML. Org-mode (go-org) is the
// wiki's native markup; Markdown (goldmark) is available as an alternative.
// Both understand the [[locator]] attachment token.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/niklasfasching/go-org/org"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/util"

	sowerrors "github.com/conneroisu/sowing/internal/errors"
)

// Renderer converts source markup to an HTML fragment.
type Renderer interface {
	Name() string
	Render(source string) (string, error)
}

// New returns the renderer called name ("org" or "markdown").
func New(name string) (Renderer, error) {
	switch strings.ToLower(name) {
	case "", "org":
		return NewOrg(), nil
	case "markdown", "md":
		return NewMarkdown(), nil
	default:
		return nil, sowerrors.NewConfigError(sowerrors.ErrCodeConfigInvalid, fmt.Sprintf("unknown renderer %q", name))
	}
}

// Org renders org-mode. Attachment tokens are native org links, so images
// become <img> and other files become anchors.
type Org struct{}

func NewOrg() *Org { return &Org{} }

func (*Org) Name() string { return "org" }

func (*Org) Render(source string) (string, error) {
	out, err := org.New().Silent().Parse(strings.NewReader(source), "").Write(org.NewHTMLWriter())
	if err != nil {
		return "", sowerrors.NewInternalError(sowerrors.ErrCodeRenderFailed, "org rendering failed", err)
	}
	return out, nil
}

// Markdown renders GitHub flavoured Markdown.
type Markdown struct {
	md goldmark.Markdown
}

func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
				parser.WithInlineParsers(util.Prioritized(&attachmentParser{}, 150)),
			),
		),
	}
}

func (*Markdown) Name() string { return "markdown" }

func (m *Markdown) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(source), &buf); err != nil {
		return "", sowerrors.NewInternalError(sowerrors.ErrCodeRenderFailed, "markdown rendering failed", err)
	}
	return buf.String(), nil
}
