package tui

import (
	"fmt"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// changeSummary counts the characters inserted and deleted since base.
func changeSummary(base, current string) (inserted, deleted int) {
	if base == current {
		return 0, 0
	}
	dmp := diffmatchpatch.New()
	for _, d := range dmp.DiffMain(base, current, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += utf8.RuneCountInString(d.Text)
		}
	}
	return inserted, deleted
}

func formatSummary(inserted, deleted int) string {
	if inserted == 0 && deleted == 0 {
		return "unchanged"
	}
	return fmt.Sprintf("+%d -%d", inserted, deleted)
}
