// Package normalize cleans scraped text and derives display names for albums.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Rule is one ordered rewrite step of the album name pipeline.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
}

// Apply runs the rule once.
func (r Rule) Apply(s string) string {
	return r.Pattern.ReplaceAllString(s, r.Replace)
}

// Later rules assume earlier ones already ran.
var nameRules = []Rule{
	{
		Name:    "separator-media-suffix",
		Pattern: regexp.MustCompile(`(\s+-\s+|/).*\b(CD|LP|Vinyl|Tape|Cassette|Musiccassette|Digipak|Digisleeve|Digipack)\b.*$`),
	},
	{
		Name:    "packaging-suffix",
		Pattern: regexp.MustCompile(`\s+(Digipak|Digisleeve|Digipack|Musiccassette)\b.*$`),
	},
	{
		Name:    "descriptor-media-suffix",
		Pattern: regexp.MustCompile(`\s+[A-Z][A-Za-z\s,+-]*\b(CD|LP|Vinyl|Tape|Cassette|Musiccassette)\b.*$`),
	},
	{
		Name:    "trailing-cd",
		Pattern: regexp.MustCompile(`\s+CD$`),
	},
	{
		Name:    "trailing-ep",
		Pattern: regexp.MustCompile(`\s+EP$`),
	},
}

// Rules returns a copy of the ordered album name rules. Whitespace trimming
// runs after the last rule.
func Rules() []Rule {
	out := make([]Rule, len(nameRules))
	copy(out, nameRules)
	return out
}

// AlbumName strips media and packaging descriptors from a raw album title.
// The ordered pass repeats until the output is stable, so
// AlbumName(AlbumName(x)) == AlbumName(x). Empty input is returned as is.
func AlbumName(raw string) string {
	if raw == "" {
		return raw
	}
	current := raw
	for {
		next := pass(current)
		if next == current {
			return next
		}
		current = next
	}
}

func pass(s string) string {
	for _, rule := range nameRules {
		s = rule.Apply(s)
	}
	return strings.TrimSpace(s)
}

// Text canonicalizes scraped text to NFC and collapses whitespace and control
// character runs into single spaces.
func Text(raw string) string {
	if raw == "" {
		return raw
	}
	composed := norm.NFC.String(raw)
	var b strings.Builder
	b.Grow(len(composed))
	space := false
	for _, r := range composed {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
