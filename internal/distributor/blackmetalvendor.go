package distributor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

var (
	bmvMediaSuffixExpr = regexp.MustCompile(`\(([^)]+)\)\s*$`)
	bmvProductIDExpr   = regexp.MustCompile(`::(\d+)\.html`)
	bmvQueryIDExpr     = regexp.MustCompile(`products_id=(\d+)`)
	bmvImageSizes      = strings.NewReplacer(
		"thumbnail_images", "popup_images",
		"midi_images", "popup_images",
		"mini_images", "popup_images",
	)
)

// BlackMetalVendor parses the black-metal-vendor.com xt:Commerce shop.
type BlackMetalVendor struct{}

// NewBlackMetalVendor returns the Black Metal Vendor strategy.
func NewBlackMetalVendor() *BlackMetalVendor { return &BlackMetalVendor{} }

// Code implements Strategy.
func (*BlackMetalVendor) Code() catalog.DistributorCode { return catalog.BlackMetalVendor }

// ParseListing implements Strategy.
func (*BlackMetalVendor) ParseListing(body []byte, pageURL string) (ListingPage, error) {
	doc, err := parseDocument(body, pageURL)
	if err != nil {
		return ListingPage{}, err
	}

	var page ListingPage
	doc.Find("div.listingbox").Each(func(_ int, box *goquery.Selection) {
		link := box.Find("div.lb_title h2 a").First()
		href := resolveURL(pageURL, link.AttrOr("href", ""))
		title := text(link)
		if href == "" || title == "" {
			return
		}
		band, album, media := bmvSplitTitle(title)
		page.Items = append(page.Items, catalog.ListingItem{
			URL:       href,
			BandName:  band,
			Title:     album,
			RawTitle:  title,
			Media:     catalog.ParseMediaType(media),
			SourceURL: pageURL,
		})
	})

	// The next link is titled "nächste Seite".
	next := doc.Find(`a.pageResults[title*="chste Seite"]`).First()
	page.NextURL = resolveURL(pageURL, next.AttrOr("href", ""))
	return page, nil
}

// ParseDetail implements Strategy.
func (*BlackMetalVendor) ParseDetail(body []byte, item catalog.ListingItem) (catalog.RawAlbumRecord, error) {
	doc, err := parseDocument(body, item.URL)
	if err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	titleNode := doc.Find("div.lb_title h2 a")
	if titleNode.Length() == 0 {
		titleNode = doc.Find("h1")
	}
	band, album, media := bmvSplitTitle(text(titleNode))
	rec := catalog.RawAlbumRecord{
		DistributorCode: catalog.BlackMetalVendor,
		BandName:        band,
		Name:            album,
		SKU:             bmvSKU(item.URL),
		Media:           catalog.ParseMediaType(media),
		ImageURLs:       imageList(resolveURL(item.URL, bmvPhoto(doc))),
		PurchaseURL:     item.URL,
	}
	rec.Press = rec.SKU
	if rec.Media == "" {
		rec.Media = item.Media
	}
	if err := requireFields(rec, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	priceNode := doc.Find("span.value_price")
	if priceNode.Length() == 0 {
		priceNode = doc.Find(`span[class*="price"]`)
	}
	if rec.Price, err = priceField(text(priceNode), item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	return rec, nil
}

// bmvSplitTitle handles "Band - Album (CD)" titles.
func bmvSplitTitle(title string) (band, album, media string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", ""
	}
	if loc := bmvMediaSuffixExpr.FindStringSubmatchIndex(title); loc != nil {
		media = strings.TrimSpace(title[loc[2]:loc[3]])
		title = strings.TrimSpace(title[:loc[0]])
	}
	for _, sep := range titleSeparators {
		if b, a, ok := strings.Cut(title, sep); ok {
			return strings.TrimSpace(b), strings.TrimSpace(a), media
		}
	}
	return title, title, media
}

// bmvSKU is the numeric product id embedded in the detail URL.
func bmvSKU(pageURL string) string {
	if m := bmvProductIDExpr.FindStringSubmatch(pageURL); m != nil {
		return m[1]
	}
	if m := bmvQueryIDExpr.FindStringSubmatch(pageURL); m != nil {
		return m[1]
	}
	return ""
}

func bmvPhoto(doc *goquery.Document) string {
	img := doc.Find("div.prod_image img").First()
	if img.Length() == 0 {
		img = doc.Find(`img[class*="product"]`).First()
	}
	src := img.AttrOr("src", "")
	if src == "" {
		src = img.AttrOr("data-src", "")
	}
	return bmvImageSizes.Replace(strings.TrimSpace(src))
}
