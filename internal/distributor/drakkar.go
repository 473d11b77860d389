package distributor

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

var (
	drakkarSlugExpr    = regexp.MustCompile(`/product/([^/?#]+)`)
	drakkarLabelExpr   = regexp.MustCompile(`(?i)Label\s*:\s*(.+)`)
	drakkarReleaseExpr = regexp.MustCompile(`(?i)Release Year\s*:\s*(\d{4})`)
	drakkarYearOnly    = regexp.MustCompile(`^\d{4}$`)
)

// drakkarFactMarkers tag short description lines that are not the genre.
var drakkarFactMarkers = []string{"origin", "label", "release year", "weight"}

const (
	drakkarShortDescription = "div.woocommerce-product-details__short-description"
	drakkarAttributes       = "table.woocommerce-product-attributes"
)

// Drakkar parses the drakkar666.com WooCommerce shop.
type Drakkar struct{}

// NewDrakkar returns the Drakkar strategy.
func NewDrakkar() *Drakkar { return &Drakkar{} }

// Code implements Strategy.
func (*Drakkar) Code() catalog.DistributorCode { return catalog.Drakkar }

// ParseListing implements Strategy.
func (*Drakkar) ParseListing(body []byte, pageURL string) (ListingPage, error) {
	doc, err := parseDocument(body, pageURL)
	if err != nil {
		return ListingPage{}, err
	}

	products := doc.Find("li.product-warp-item")
	if products.Length() == 0 {
		products = doc.Find(".type-product")
	}

	var page ListingPage
	seen := map[string]struct{}{}
	products.Each(func(_ int, product *goquery.Selection) {
		href := resolveURL(pageURL, product.Find(`a[href*="/product/"]`).First().AttrOr("href", ""))
		if href == "" {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}

		title := text(product.Find(".woocommerce-loop-product__title"))
		band, album, media := splitTitle(title)
		page.Items = append(page.Items, catalog.ListingItem{
			URL:       href,
			BandName:  band,
			Title:     album,
			RawTitle:  title,
			Media:     drakkarMedia(media),
			SourceURL: pageURL,
		})
	})

	page.NextURL = resolveURL(pageURL, doc.Find("a.next").First().AttrOr("href", ""))
	return page, nil
}

// ParseDetail implements Strategy.
func (*Drakkar) ParseDetail(body []byte, item catalog.ListingItem) (catalog.RawAlbumRecord, error) {
	doc, err := parseDocument(body, item.URL)
	if err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	ld := productJSONLD(doc)

	band, album, mediaRaw := splitTitle(text(doc.Find("h1.product_title")))
	rec := catalog.RawAlbumRecord{
		DistributorCode: catalog.Drakkar,
		BandName:        band,
		Name:            album,
		SKU:             drakkarSKU(ld, doc, item.URL),
		Media:           drakkarMedia(mediaRaw),
		ImageURLs:       imageList(resolveURL(item.URL, drakkarPhoto(ld, doc))),
		PurchaseURL:     item.URL,
		ReleaseDate:     drakkarReleaseDate(doc),
		Genre:           drakkarGenre(doc),
		Label:           drakkarLabel(ld, doc),
		Description:     drakkarDescription(ld, doc),
	}
	rec.Press = rec.SKU
	if rec.Media == "" {
		rec.Media = item.Media
	}
	if err := requireFields(rec, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	priceNode := doc.Find("p.price bdi")
	if priceNode.Length() == 0 {
		priceNode = doc.Find("span.woocommerce-Price-amount bdi")
	}
	if rec.Price, err = priceField(text(priceNode), item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	return rec, nil
}

// drakkarMedia reads the trailing media part of a product title. Fanzines
// carry no media.
func drakkarMedia(raw string) catalog.MediaType {
	upper := strings.ToUpper(raw)
	switch {
	case upper == "", strings.Contains(upper, "FANZINE"):
		return ""
	case strings.Contains(upper, "LP"):
		return catalog.MediaLP
	case strings.Contains(upper, "CD"):
		return catalog.MediaCD
	case strings.Contains(upper, "TAPE"):
		return catalog.MediaTape
	}
	return ""
}

func drakkarSKU(ld map[string]any, doc *goquery.Document, pageURL string) string {
	if sku := ldString(ld, "sku"); sku != "" {
		return sku
	}
	if sku := text(doc.Find("span.sku")); sku != "" {
		return sku
	}
	if m := drakkarSlugExpr.FindStringSubmatch(pageURL); m != nil {
		return m[1]
	}
	return ""
}

func drakkarPhoto(ld map[string]any, doc *goquery.Document) string {
	if img := ldString(ld, "image"); img != "" {
		return img
	}
	img := doc.Find("div.woocommerce-product-gallery img").First()
	for _, attr := range []string{"data-src", "data-large_image", "src"} {
		src := strings.TrimSpace(img.AttrOr(attr, ""))
		if src != "" && !strings.HasPrefix(src, "data:") {
			return thumbSizeExpr.ReplaceAllString(src, "$1")
		}
	}
	return ""
}

func drakkarGenre(doc *goquery.Document) string {
	for _, sel := range []string{drakkarShortDescription, drakkarAttributes} {
		for _, line := range structuredLines(doc.Find(sel)) {
			if !isDrakkarFact(line) {
				return line
			}
		}
	}
	return ""
}

func isDrakkarFact(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range drakkarFactMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func drakkarLabel(ld map[string]any, doc *goquery.Document) string {
	if label := ldName(ld, "brand"); label != "" {
		return label
	}
	for _, line := range structuredLines(doc.Find(drakkarShortDescription)) {
		if m := drakkarLabelExpr.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func drakkarReleaseDate(doc *goquery.Document) (released time.Time) {
	lines := structuredLines(doc.Find(drakkarShortDescription))
	lines = append(lines, structuredLines(doc.Find(drakkarAttributes))...)
	for _, line := range lines {
		if m := drakkarReleaseExpr.FindStringSubmatch(line); m != nil {
			return parseYear(m[1])
		}
	}
	doc.Find("span.posted_in a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if t := strings.TrimSpace(a.Text()); drakkarYearOnly.MatchString(t) {
			released = parseYear(t)
			return false
		}
		return true
	})
	return released
}

func drakkarDescription(ld map[string]any, doc *goquery.Document) string {
	if desc := ldString(ld, "description"); desc != "" {
		return stripHTML(desc)
	}
	return text(doc.Find(drakkarShortDescription))
}
