package distributor

import (
	"bytes"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/normalize"
)

var (
	priceExpr     = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	yearExpr      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	blockTagExpr  = regexp.MustCompile(`(?i)<\s*/?\s*(p|div|br|li|tr|th|td|h[1-6])\b[^>]*>`)
	anyTagExpr    = regexp.MustCompile(`<[^>]+>`)
	thumbSizeExpr = regexp.MustCompile(`-\d+x\d+(\.\w+)$`)
)

// titleSeparators are tried in order when splitting "Band - Album - Media".
var titleSeparators = []string{" \u2013 ", " \u2014 ", " - "}

func parseDocument(body []byte, pageURL string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &catalog.ParseError{Kind: catalog.UnexpectedFormat, Field: "document", URL: pageURL, Err: err}
	}
	return doc, nil
}

// text returns the whitespace-normalized text of the first match.
func text(sel *goquery.Selection) string {
	return normalize.Text(sel.First().Text())
}

// resolveURL makes href absolute against base; it returns "" for unusable links.
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}

// parsePrice extracts the first decimal number, accepting a comma separator.
func parsePrice(raw string) (float64, bool) {
	raw = strings.ReplaceAll(raw, "\u00a0", " ")
	match := priceExpr.FindString(raw)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseYear returns January 1st of the first plausible year in raw.
func parseYear(raw string) time.Time {
	match := yearExpr.FindString(raw)
	if match == "" {
		return time.Time{}
	}
	y, _ := strconv.Atoi(match)
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// afterColon returns the trimmed text after the last ':'.
func afterColon(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return strings.TrimSpace(s)
}

// labelled finds the first element in sel whose text contains marker.
func labelled(sel *goquery.Selection, marker string) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), marker)
	}).First()
}

// stripHTML turns an HTML fragment into plain text.
func stripHTML(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return normalize.Text(anyTagExpr.ReplaceAllString(fragment, " "))
	}
	return normalize.Text(doc.Text())
}

// structuredLines splits the inner HTML of sel on block boundaries.
func structuredLines(sel *goquery.Selection) []string {
	inner, err := sel.First().Html()
	if err != nil || inner == "" {
		return nil
	}
	inner = blockTagExpr.ReplaceAllString(inner, "\n")
	var lines []string
	for _, line := range strings.Split(inner, "\n") {
		if line = stripHTML(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// splitTitle splits "Band - Album - Media" style titles. With two parts the
// media part is empty. Without a separator both band and album are the title.
func splitTitle(title string) (band, album, media string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", ""
	}
	var parts []string
	for _, sep := range titleSeparators {
		if p := strings.Split(title, sep); len(p) >= 3 {
			parts = p
			break
		}
	}
	if parts == nil {
		for _, sep := range titleSeparators {
			if p := strings.SplitN(title, sep, 2); len(p) == 2 {
				parts = p
				break
			}
		}
	}
	if parts == nil {
		return title, title, ""
	}
	band = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		return band, capitalize(strings.TrimSpace(parts[1])), ""
	}
	album = capitalize(strings.TrimSpace(strings.Join(parts[1:len(parts)-1], " - ")))
	return band, album, strings.TrimSpace(parts[len(parts)-1])
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

// productJSONLD returns the first schema.org Product object, looking inside
// @graph containers as well.
func productJSONLD(doc *goquery.Document) map[string]any {
	var product map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		var root map[string]any
		if err := json.Unmarshal([]byte(raw), &root); err != nil {
			return true
		}
		if isProduct(root) {
			product = root
			return false
		}
		graph, _ := root["@graph"].([]any)
		for _, node := range graph {
			if m, ok := node.(map[string]any); ok && isProduct(m) {
				product = m
				return false
			}
		}
		return true
	})
	return product
}

func isProduct(m map[string]any) bool {
	t, _ := m["@type"].(string)
	return t == "Product"
}

// ldString reads a string or number property from a JSON-LD object.
func ldString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// ldName reads the name of a nested object or array of objects.
func ldName(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case map[string]any:
		return ldString(v, "name")
	case []any:
		if len(v) > 0 {
			if obj, ok := v[0].(map[string]any); ok {
				return ldString(obj, "name")
			}
		}
	case string:
		return strings.TrimSpace(v)
	}
	return ""
}

// requireFields reports the first missing required album field.
func requireFields(rec catalog.RawAlbumRecord, pageURL string) error {
	missing := func(field string) error {
		return &catalog.ParseError{Kind: catalog.MissingField, Field: field, URL: pageURL}
	}
	switch {
	case rec.BandName == "":
		return missing("bandName")
	case rec.Name == "":
		return missing("name")
	case rec.SKU == "":
		return missing("sku")
	case rec.Media == "":
		return missing("media")
	}
	return nil
}

// priceField parses raw and reports a missing or malformed price.
func priceField(raw, pageURL string) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, &catalog.ParseError{Kind: catalog.MissingField, Field: "price", URL: pageURL}
	}
	v, ok := parsePrice(raw)
	if !ok {
		return 0, &catalog.ParseError{Kind: catalog.UnexpectedFormat, Field: "price", URL: pageURL}
	}
	return v, nil
}

func imageList(u string) []string {
	if u == "" {
		return nil
	}
	return []string{u}
}

// ldObject returns v when it is an object, or its first element when it is
// an array of objects.
func ldObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) > 0 {
			m, _ := t[0].(map[string]any)
			return m
		}
	}
	return nil
}

// ldOfferPrice reads offers.price, falling back to the price specification.
func ldOfferPrice(ld map[string]any) string {
	offer := ldObject(ld["offers"])
	if offer == nil {
		return ""
	}
	if p := ldString(offer, "price"); p != "" {
		return p
	}
	return ldString(ldObject(offer["priceSpecification"]), "price")
}

// parseDate tries layouts in order and returns the zero time when none fit.
func parseDate(raw string, layouts ...string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// preOrderStatus maps add-to-cart button text to a stock status.
func preOrderStatus(button string) catalog.AlbumStatus {
	lower := strings.ToLower(button)
	if strings.Contains(lower, "pre-order") || strings.Contains(lower, "preorder") {
		return catalog.AlbumPreOrder
	}
	return ""
}
