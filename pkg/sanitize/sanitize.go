// Package sanitize neutralizes user-supplied chat text before it is stored or forwarded.
//
// It removes angle brackets, javascript: scheme prefixes and inline event-handler
// attributes (onclick=, onerror=, ...). This is not an HTML sanitizer; it only keeps
// the obvious markup-injection vectors out of text a client may later render.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	angleBrackets  = regexp.MustCompile(`[<>]`)
	javascriptURI  = regexp.MustCompile(`(?i)javascript:`)
	eventAttribute = regexp.MustCompile(`(?i)on[\p{L}\p{N}_]+=`)
)

// Text returns s with unsafe substrings removed and surrounding whitespace trimmed.
//
// Removals are repeated until the text no longer changes, because deleting one
// match can splice its neighbours into a new one ("javajavascript:script:").
// This keeps Text idempotent.
func Text(s string) string {
	if s == "" {
		return ""
	}
	for {
		next := strip(s)
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(s)
}

func strip(s string) string {
	s = angleBrackets.ReplaceAllString(s, "")
	s = javascriptURI.ReplaceAllString(s, "")
	s = eventAttribute.ReplaceAllString(s, "")
	return s
}
