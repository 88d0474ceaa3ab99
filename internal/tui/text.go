package tui

import (
	"strings"

	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlToText flattens preview markup into terminal text wrapped at width.
// Headings keep their level as leading '#', list items become bullets,
// links show their target and images their source.
func htmlToText(markup string, width int) string {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return markup
	}

	var blocks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			blocks = append(blocks, s)
		}
		cur.Reset()
	}

	var walk func(n *html.Node, pre bool)
	walk = func(n *html.Node, pre bool) {
		switch n.Type {
		case html.TextNode:
			if pre {
				flush()
				blocks = append(blocks, strings.TrimRight(n.Data, "\n"))
				return
			}
			cur.WriteString(n.Data)
			return
		case html.ElementNode:
		default:
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c, pre)
			}
			return
		}

		switch n.DataAtom {
		case atom.Script, atom.Style:
			return
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			flush()
			cur.WriteString(strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case atom.Li:
			flush()
			cur.WriteString("• ")
		case atom.P, atom.Div, atom.Tr, atom.Blockquote, atom.Table:
			flush()
		case atom.Br:
			flush()
			return
		case atom.Hr:
			flush()
			blocks = append(blocks, "────")
			return
		case atom.Pre:
			pre = true
		case atom.Img:
			cur.WriteString(" [image: " + attr(n, "src") + "] ")
			return
		case atom.Td, atom.Th:
			cur.WriteString(" | ")
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, pre)
		}

		switch n.DataAtom {
		case atom.A:
			if href := attr(n, "href"); href != "" {
				cur.WriteString(" <" + href + ">")
			}
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Li, atom.P, atom.Div, atom.Tr, atom.Blockquote:
			flush()
		}
	}
	walk(root, false)
	flush()

	out := strings.Join(blocks, "\n\n")
	if width > 0 {
		out = wordwrap.String(out, width)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
