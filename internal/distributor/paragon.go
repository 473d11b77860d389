package distributor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

var (
	paragonHandleExpr = regexp.MustCompile(`/products/([^/?#]+)`)
	paragonVendorExpr = regexp.MustCompile(`"product":\{[^}]*"vendor":"([^"]+)"`)
)

// paragonFormatTokens are stripped from the end of album names, repeatedly.
var paragonFormatTokens = []string{
	"CASSETTE", "DIGIPAK", "DIGISLEEVE", "GATEFOLD", "DOUBLE", "DIGI",
	"COLOURED", "COLORED", "DLP", "LP", "DCD", "CD", "EP", "TAPE",
}

// ParagonRecords parses the paragonrecords.org Shopify shop.
type ParagonRecords struct{}

// NewParagonRecords returns the Paragon Records strategy.
func NewParagonRecords() *ParagonRecords { return &ParagonRecords{} }

// Code implements Strategy.
func (*ParagonRecords) Code() catalog.DistributorCode { return catalog.ParagonRecords }

// ParseListing implements Strategy.
func (*ParagonRecords) ParseListing(body []byte, pageURL string) (ListingPage, error) {
	doc, err := parseDocument(body, pageURL)
	if err != nil {
		return ListingPage{}, err
	}

	var page ListingPage
	seen := map[string]struct{}{}
	doc.Find("div.grid--view-items div.grid__item").Each(func(_ int, product *goquery.Selection) {
		href := resolveURL(pageURL, product.Find("a.grid-view-item__link").First().AttrOr("href", ""))
		if href == "" {
			return
		}
		key := strings.ToLower(href)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		title := text(product.Find("div.grid-view-item__title"))
		if title == "" {
			return
		}
		band, album := paragonSplitName(title)
		page.Items = append(page.Items, catalog.ListingItem{
			URL:       href,
			BandName:  band,
			Title:     album,
			RawTitle:  title,
			Media:     paragonMedia(href, title),
			SourceURL: pageURL,
		})
	})

	next := doc.Find("ul.pagination a").FilterFunction(func(_ int, a *goquery.Selection) bool {
		return strings.Contains(a.Find("span").Text(), "Next")
	})
	page.NextURL = resolveURL(pageURL, next.First().AttrOr("href", ""))
	return page, nil
}

// ParseDetail implements Strategy. The shop shows no catalog number, so the
// product handle stands in for the sku.
func (*ParagonRecords) ParseDetail(body []byte, item catalog.ListingItem) (catalog.RawAlbumRecord, error) {
	doc, err := parseDocument(body, item.URL)
	if err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	titleNode := doc.Find("h1.product-single__title")
	if titleNode.Length() == 0 {
		titleNode = doc.Find("h1")
	}
	title := text(titleNode)
	band, album := paragonSplitName(title)
	rec := catalog.RawAlbumRecord{
		DistributorCode: catalog.ParagonRecords,
		BandName:        band,
		Name:            album,
		SKU:             paragonHandle(item.URL),
		Media:           paragonMedia(item.URL, title),
		ImageURLs:       imageList(resolveURL(item.URL, paragonPhoto(doc))),
		PurchaseURL:     item.URL,
		Genre:           text(doc.Find("div.product-single__description")),
		Label:           paragonVendor(body),
		Status:          paragonStatus(doc),
	}
	if rec.Media == "" {
		rec.Media = item.Media
	}
	if err := requireFields(rec, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	raw := strings.TrimSpace(doc.Find(`meta[property="og:price:amount"]`).AttrOr("content", ""))
	if raw == "" {
		raw = text(doc.Find("span.product-price__price"))
	}
	if rec.Price, err = priceField(raw, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	return rec, nil
}

// paragonSplitName splits "Band - Album FORMAT" and drops the format words.
func paragonSplitName(raw string) (band, album string) {
	b, a, ok := strings.Cut(raw, " - ")
	if !ok {
		return "", strings.TrimSpace(raw)
	}
	return strings.TrimSpace(b), stripFormatSuffix(strings.TrimSpace(a))
}

func stripFormatSuffix(album string) string {
	out := album
	for changed := true; changed && out != ""; {
		changed = false
		upper := strings.ToUpper(out)
		for _, token := range paragonFormatTokens {
			if strings.HasSuffix(upper, " "+token) {
				out = strings.TrimSpace(out[:len(out)-len(token)-1])
				changed = true
				break
			}
		}
	}
	if out == "" {
		return album
	}
	return out
}

func paragonHandle(pageURL string) string {
	if m := paragonHandleExpr.FindStringSubmatch(pageURL); m != nil {
		return m[1]
	}
	return ""
}

// paragonVendor reads the vendor from the inline Shopify product object.
func paragonVendor(body []byte) string {
	if m := paragonVendorExpr.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}

func paragonPhoto(doc *goquery.Document) string {
	if secure := strings.TrimSpace(doc.Find(`meta[property="og:image:secure_url"]`).AttrOr("content", "")); secure != "" {
		return secure
	}
	og := strings.TrimSpace(doc.Find(`meta[property="og:image"]`).AttrOr("content", ""))
	return strings.Replace(og, "http://", "https://", 1)
}

// paragonMedia checks the product handle first, then the title.
func paragonMedia(pageURL, title string) catalog.MediaType {
	slug := strings.ToUpper(pageURL)
	switch {
	case strings.Contains(slug, "-LP"), strings.Contains(slug, "-VINYL"), strings.Contains(slug, "-DLP"):
		return catalog.MediaLP
	case strings.Contains(slug, "-CASSETTE"), strings.Contains(slug, "-TAPE"):
		return catalog.MediaTape
	case strings.Contains(slug, "-CD"), strings.Contains(slug, "-DCD"):
		return catalog.MediaCD
	}
	upper := " " + strings.ToUpper(title) + " "
	switch {
	case strings.Contains(upper, " LP "), strings.Contains(upper, " VINYL"), strings.Contains(upper, " DLP"):
		return catalog.MediaLP
	case strings.Contains(upper, " CASSETTE "), strings.Contains(upper, " TAPE"):
		return catalog.MediaTape
	case strings.Contains(upper, " CD "), strings.Contains(upper, " DCD"):
		return catalog.MediaCD
	}
	return ""
}

func paragonStatus(doc *goquery.Document) catalog.AlbumStatus {
	button := doc.Find("span#AddToCartText-product-template")
	if button.Length() == 0 {
		button = doc.Find("button.product-form__cart-submit")
	}
	return preOrderStatus(text(button))
}
