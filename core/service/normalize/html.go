package normalize

import (
	"html"
	"regexp"
	"strings"
)

var (
	titlePattern  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
)

// StripHTML reduces an HTML document to its visible text: scripts and
// styles removed, tags dropped, entities decoded, whitespace collapsed.
func StripHTML(s string) string {
	s = scriptPattern.ReplaceAllString(s, " ")
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = spacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// HTMLTitle extracts the document title, or "" when absent.
func HTMLTitle(s string) string {
	m := titlePattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m[1]))
}
