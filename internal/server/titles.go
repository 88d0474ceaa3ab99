package server

import (
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// titleFromPath derives a page title from the last path segment,
// "guides/getting-started" becoming "Getting Started".
func titleFromPath(p string) string {
	slug := path.Base(strings.Trim(p, "/"))
	if slug == "." || slug == "/" || slug == "" {
		return "Untitled"
	}
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(slug))
	if len(words) == 0 {
		return "Untitled"
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}
