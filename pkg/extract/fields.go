package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mailspend/mailspend/pkg/api"
)

const (
	maxTitleLen  = 100
	maxVendorLen = 50

	// minTitleLen is the minimum trimmed length, in characters, for a
	// labeled title match to be accepted.
	minTitleLen = 3

	// DefaultTitle is the final title fallback when neither the body
	// nor the subject yields one.
	DefaultTitle = "Email Expense"
)

// earliestYear rejects matched dates at or before this year; such
// matches are almost always order numbers or card fragments, not
// transaction dates.
const earliestYear = 2020

// rule is one entry of an ordered pattern table. Rules are evaluated
// top to bottom; the first acceptable match wins.
type rule struct {
	name string
	re   *regexp.Regexp
}

const currencySym = `(?:₹|rs\.?|inr|usd|\$|€|£)`

func amountRule(label string) rule {
	return rule{label, regexp.MustCompile(`(?i)\b` + label + `\s*[:\-]?\s*` + currencySym + `?\s*([\d,]+(?:\.\d+)?)`)}
}

func lineRule(label, pattern string) rule {
	return rule{label, regexp.MustCompile(`(?i)\b` + pattern + `\s*[:\-]\s*([^\n]+)`)}
}

// Labeled amounts take precedence over bare currency symbols; within
// each group, order follows how often the label wins in real receipts.
var amountRules = []rule{
	amountRule("amount"),
	amountRule("total"),
	amountRule("price"),
	amountRule("cost"),
	amountRule("paid"),
	amountRule("charged"),
	amountRule("bill"),
	{"rupee symbol", regexp.MustCompile(`₹\s*([\d,]+(?:\.\d+)?)`)},
	{"rs", regexp.MustCompile(`(?i)\brs\.?\s*([\d,]+(?:\.\d+)?)`)},
	{"inr", regexp.MustCompile(`(?i)\binr\s*([\d,]+(?:\.\d+)?)`)},
	{"dollar", regexp.MustCompile(`\$\s*([\d,]+(?:\.\d+)?)`)},
	{"euro", regexp.MustCompile(`€\s*([\d,]+(?:\.\d+)?)`)},
	{"pound", regexp.MustCompile(`£\s*([\d,]+(?:\.\d+)?)`)},
}

var titleRules = []rule{
	lineRule("item", "item"),
	lineRule("product", "product"),
	lineRule("service", "service"),
	lineRule("purchase", "purchase"),
	lineRule("transaction", "transaction"),
	lineRule("description", "description"),
	lineRule("for", "for"),
	lineRule("order", "order"),
}

var vendorRules = []rule{
	lineRule("vendor", "vendor"),
	lineRule("merchant", "merchant"),
	lineRule("store", "store"),
	lineRule("from", "from"),
	lineRule("shop", "shop"),
	lineRule("company", "company"),
}

var dateRules = []rule{
	lineRule("date of purchase", `date\s+of\s+purchase`),
	lineRule("transaction date", `transaction\s+date`),
	lineRule("purchase date", `purchase\s+date`),
	lineRule("date", "date"),
	lineRule("on", "on"),
	lineRule("purchased on", `purchased\s+on`),
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

var (
	subjectPrefixRE = regexp.MustCompile(`(?i)^(?:re|fwd|fw)\s*:\s*`)
	angleAddrRE     = regexp.MustCompile(`<([^>]+)>`)
)

// Extract derives a candidate expense from message text and headers.
//
// Each field is matched independently against its ordered rule table;
// a field with no match falls back per its own rule and never fails the
// extraction as a whole. receivedAt is the date fallback, keeping the
// result deterministic for a fixed input.
func Extract(plainText string, headers map[string]string, receivedAt time.Time) api.CandidateExpense {
	return api.CandidateExpense{
		Title:      extractTitle(plainText, headerValue(headers, "Subject")),
		Amount:     extractAmount(plainText),
		Vendor:     extractVendor(plainText, headerValue(headers, "From")),
		OccurredAt: extractDate(plainText, receivedAt),
	}
}

// extractAmount returns the first strictly positive labeled or
// symbol-prefixed amount, or 0 when nothing matches.
func extractAmount(text string) float64 {
	for _, r := range amountRules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")
		amount, err := strconv.ParseFloat(raw, 64)
		if err == nil && amount > 0 {
			return amount
		}
	}
	return 0
}

func extractTitle(text, subject string) string {
	for _, r := range titleRules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(m[1])
		if utf8.RuneCountInString(title) > minTitleLen {
			return truncate(title, maxTitleLen)
		}
	}

	if subject = stripReplyPrefixes(subject); subject != "" {
		return truncate(subject, maxTitleLen)
	}

	return DefaultTitle
}

func stripReplyPrefixes(subject string) string {
	subject = strings.TrimSpace(subject)
	for {
		stripped := subjectPrefixRE.ReplaceAllString(subject, "")
		if stripped == subject {
			return subject
		}
		subject = strings.TrimSpace(stripped)
	}
}

func extractVendor(text, sender string) string {
	for _, r := range vendorRules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if vendor := strings.TrimSpace(m[1]); vendor != "" {
			return truncate(vendor, maxVendorLen)
		}
	}
	return vendorFromSender(sender)
}

// vendorFromSender derives a vendor token from a From header: the
// address inside angle brackets if present, then the part before "@",
// then the part before the first ".".
func vendorFromSender(sender string) string {
	addr := strings.TrimSpace(sender)
	if m := angleAddrRE.FindStringSubmatch(addr); m != nil {
		addr = m[1]
	}
	if i := strings.Index(addr, "@"); i >= 0 {
		addr = addr[:i]
	}
	if i := strings.Index(addr, "."); i >= 0 {
		addr = addr[:i]
	}
	return truncate(strings.TrimSpace(addr), maxVendorLen)
}

func extractDate(text string, fallback time.Time) time.Time {
	for _, r := range dateRules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if t, ok := parseDate(m[1]); ok {
			return t
		}
	}
	return fallback
}

// parseDate parses a labeled date value. The capture runs to the end of
// the line, so progressively shorter prefixes are tried: dates rarely
// span more than four tokens.
func parseDate(raw string) (time.Time, bool) {
	tokens := strings.Fields(raw)
	max := len(tokens)
	if max > 4 {
		max = 4
	}
	for n := max; n >= 1; n-- {
		candidate := strings.TrimRight(strings.Join(tokens[:n], " "), ".,;")
		for _, layout := range dateLayouts {
			t, err := time.Parse(layout, candidate)
			if err == nil && t.Year() > earliestYear {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
