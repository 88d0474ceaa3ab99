package render

import (
	"bytes"
	"path"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".svg": true, ".bmp": true, ".avif": true,
}

// IsImage reports whether locator names an image by its extension.
func IsImage(locator string) bool {
	return imageExtensions[strings.ToLower(path.Ext(locator))]
}

// attachmentParser turns [[locator]] into an image or a link in Markdown.
type attachmentParser struct{}

func (*attachmentParser) Trigger() []byte {
	return []byte{'['}
}

func (*attachmentParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if len(line) < 5 || line[1] != '[' {
		return nil
	}
	end := bytes.Index(line[2:], []byte("]]"))
	if end <= 0 {
		return nil
	}
	dest := line[2 : 2+end]
	if bytes.ContainsAny(dest, " \t[]") {
		return nil
	}
	block.Advance(end + 4)

	link := ast.NewLink()
	link.Destination = dest
	label := ast.NewString([]byte(path.Base(string(dest))))

	if IsImage(string(dest)) {
		img := ast.NewImage(link)
		img.AppendChild(img, label)
		return img
	}
	link.AppendChild(link, label)
	return link
}
