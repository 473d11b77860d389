package distributor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

var bmsSlugExpr = regexp.MustCompile(`/produto/[^/]+/([^/?#]+)/?$`)

// bmsFormatCategories are product categories that name a format, not a label.
var bmsFormatCategories = map[string]struct{}{"cds": {}, "cassettes": {}, "vinyl": {}}

// BlackMetalStore parses the blackmetalstore.com WooCommerce shop.
type BlackMetalStore struct{}

// NewBlackMetalStore returns the Black Metal Store strategy.
func NewBlackMetalStore() *BlackMetalStore { return &BlackMetalStore{} }

// Code implements Strategy.
func (*BlackMetalStore) Code() catalog.DistributorCode { return catalog.BlackMetalStore }

// ParseListing implements Strategy.
func (*BlackMetalStore) ParseListing(body []byte, pageURL string) (ListingPage, error) {
	doc, err := parseDocument(body, pageURL)
	if err != nil {
		return ListingPage{}, err
	}

	var page ListingPage
	seen := map[string]struct{}{}
	doc.Find(`a[href*="/produto/"]`).Each(func(_ int, link *goquery.Selection) {
		href := resolveURL(pageURL, link.AttrOr("href", ""))
		if href == "" {
			return
		}
		key := strings.ToLower(href)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		title := bmsListingTitle(link)
		if title == "" {
			return
		}
		band, album, media := bmvSplitTitle(title)
		page.Items = append(page.Items, catalog.ListingItem{
			URL:       href,
			BandName:  band,
			Title:     album,
			RawTitle:  title,
			Media:     bmsMedia(media),
			SourceURL: pageURL,
		})
	})

	page.NextURL = resolveURL(pageURL, doc.Find("a.next.page-numbers").First().AttrOr("href", ""))
	return page, nil
}

// bmsListingTitle reads the heading of the product card holding link.
func bmsListingTitle(link *goquery.Selection) string {
	card := link.Closest(".product")
	if card.Length() == 0 {
		return ""
	}
	for _, sel := range []string{"h2.product-title", "h2", "h3"} {
		if t := text(card.Find(sel)); t != "" {
			return t
		}
	}
	return ""
}

// ParseDetail implements Strategy.
func (*BlackMetalStore) ParseDetail(body []byte, item catalog.ListingItem) (catalog.RawAlbumRecord, error) {
	doc, err := parseDocument(body, item.URL)
	if err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	ld := productJSONLD(doc)

	band, album, mediaRaw := bmvSplitTitle(text(doc.Find("h1")))
	rec := catalog.RawAlbumRecord{
		DistributorCode: catalog.BlackMetalStore,
		BandName:        band,
		Name:            album,
		SKU:             bmsSKU(ld, doc, item.URL),
		Media:           bmsMedia(mediaRaw),
		ImageURLs:       imageList(resolveURL(item.URL, bmsPhoto(ld, doc))),
		PurchaseURL:     item.URL,
		Genre:           bmsGenre(ld, doc),
		Label:           bmsLabel(doc),
		Description:     bmsDescription(ld, doc),
	}
	rec.Press = rec.SKU
	if rec.Media == "" {
		rec.Media = item.Media
	}
	if err := requireFields(rec, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	raw := ldOfferPrice(ld)
	if raw == "" {
		priceNode := doc.Find("p.price bdi")
		if priceNode.Length() == 0 {
			priceNode = doc.Find("span.woocommerce-Price-amount bdi")
		}
		raw = text(priceNode)
	}
	if rec.Price, err = priceField(raw, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	return rec, nil
}

func bmsMedia(raw string) catalog.MediaType {
	upper := strings.ToUpper(raw)
	switch {
	case upper == "":
		return ""
	case strings.Contains(upper, "LP"), strings.Contains(upper, "VINYL"):
		return catalog.MediaLP
	case strings.Contains(upper, "CD"):
		return catalog.MediaCD
	case strings.Contains(upper, "TAPE"), strings.Contains(upper, "MC"), strings.Contains(upper, "CASSET"):
		return catalog.MediaTape
	}
	return ""
}

func bmsSKU(ld map[string]any, doc *goquery.Document, pageURL string) string {
	if sku := ldString(ld, "sku"); sku != "" {
		return sku
	}
	if sku := text(doc.Find("span.sku")); sku != "" {
		return sku
	}
	if m := bmsSlugExpr.FindStringSubmatch(pageURL); m != nil {
		return m[1]
	}
	return pageURL
}

func bmsPhoto(ld map[string]any, doc *goquery.Document) string {
	if img := ldString(ld, "image"); img != "" {
		return img
	}
	img := doc.Find("img.wp-post-image").First()
	src := img.AttrOr("data-src", "")
	if src == "" {
		src = img.AttrOr("src", "")
	}
	if strings.Contains(src, "placeholder") {
		return ""
	}
	return strings.TrimSpace(src)
}

// bmsLabel is the first product category that is not a format. Products
// tagged with a single category carry no label.
func bmsLabel(doc *goquery.Document) (label string) {
	links := doc.Find("span.posted_in a")
	if links.Length() < 2 {
		return ""
	}
	links.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		t := text(a)
		if _, format := bmsFormatCategories[strings.ToLower(t)]; t == "" || format {
			return true
		}
		label = t
		return false
	})
	return label
}

func bmsGenre(ld map[string]any, doc *goquery.Document) string {
	if brand := ldName(ld, "brand"); brand != "" {
		return brand
	}
	return text(doc.Find("div.product-brand a"))
}

func bmsDescription(ld map[string]any, doc *goquery.Document) string {
	if desc := ldString(ld, "description"); desc != "" {
		return stripHTML(desc)
	}
	return text(doc.Find("div.woocommerce-product-details__short-description"))
}
