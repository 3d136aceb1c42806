package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

var (
	ugcPolicy    = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy()
)

// RenderMarkdown converts markdown text to sanitized HTML
func RenderMarkdown(markdown string) string {
	unsafe := blackfriday.Run([]byte(markdown))
	return string(ugcPolicy.SanitizeBytes(unsafe))
}

// PlainText strips all markup from s and collapses whitespace. Text that
// comes back from a model is run through this before it is stored. The
// result is plain text, not HTML: entities are decoded.
func PlainText(s string) string {
	return html.UnescapeString(strings.Join(strings.Fields(strictPolicy.Sanitize(s)), " "))
}

// CleanList applies PlainText to every item, drops empty items and
// duplicates (case-insensitive), and keeps at most max items.
func CleanList(items []string, max int) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = PlainText(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// Truncate shortens s to at most n runes
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
