package server

import (
	"html"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffHTML renders a semantic character diff of from and to. Inserted runs
// are wrapped in <ins>, deleted runs in <del> and unchanged runs in <span>.
func diffHTML(from, to string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(from, to, true))

	var b strings.Builder
	for _, d := range diffs {
		var tag string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			tag = "ins"
		case diffmatchpatch.DiffDelete:
			tag = "del"
		default:
			tag = "span"
		}
		b.WriteString("<" + tag + ">")
		b.WriteString(html.EscapeString(d.Text))
		b.WriteString("</" + tag + ">")
	}
	return b.String()
}
