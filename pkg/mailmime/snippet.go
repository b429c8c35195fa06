package mailmime

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Snippet strips markup and collapses whitespace into a short preview.
func Snippet(body string, isHTML bool) string {
	preview := body
	if isHTML {
		preview = tagPattern.ReplaceAllString(preview, " ")
		preview = html.UnescapeString(preview)
	}
	preview = strings.Join(strings.Fields(preview), " ")
	if r := []rune(preview); len(r) > 200 {
		preview = string(r[:200]) + "..."
	}
	return preview
}
