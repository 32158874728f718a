// Package extract turns fetched mail messages into candidate expense
// records: MIME flattening to plain text, then ordered pattern matching
// over that text.
package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mailspend/mailspend/pkg/api"
)

var (
	stripPolicy = bluemonday.StrictPolicy()

	// Block-level boundaries become line breaks before tag stripping so
	// labeled values stay on their own lines.
	blockTagRE = regexp.MustCompile(`(?i)<\s*(?:br\s*/?|/p|/div|/tr|/li|/h[1-6]|/table)\s*>`)

	spaceRunRE = regexp.MustCompile(`[ \t\r\f]+`)
	blankRunRE = regexp.MustCompile(`\n\s*\n+`)
)

// PlainText flattens a message's MIME part tree into plain text.
//
// All text/plain parts are concatenated in tree order. When none exist
// anywhere in the tree, the first text/html part is used with tags
// stripped and whitespace collapsed. An empty result is a valid
// outcome, not an error: it means the message has no extractable
// content.
func PlainText(msg *api.RawMessage) string {
	if msg == nil || msg.Payload == nil {
		return ""
	}

	var plains []string
	collectPlain(msg.Payload, &plains)
	if len(plains) > 0 {
		return normalize(strings.Join(plains, "\n"))
	}

	if htmlBody := firstHTML(msg.Payload); htmlBody != "" {
		return StripHTML(htmlBody)
	}

	return ""
}

// StripHTML removes all HTML tags and collapses whitespace, preserving
// line structure at block boundaries.
func StripHTML(s string) string {
	s = blockTagRE.ReplaceAllString(s, "\n")
	s = stripPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return normalize(s)
}

func normalize(s string) string {
	s = spaceRunRE.ReplaceAllString(s, " ")
	s = blankRunRE.ReplaceAllString(s, "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func collectPlain(p *api.MessagePart, out *[]string) {
	if p == nil {
		return
	}
	if strings.EqualFold(p.MimeType, "text/plain") && p.Body != "" {
		*out = append(*out, p.Body)
	}
	for _, child := range p.Parts {
		collectPlain(child, out)
	}
}

func firstHTML(p *api.MessagePart) string {
	if p == nil {
		return ""
	}
	if strings.EqualFold(p.MimeType, "text/html") && p.Body != "" {
		return p.Body
	}
	for _, child := range p.Parts {
		if body := firstHTML(child); body != "" {
			return body
		}
	}
	return ""
}
