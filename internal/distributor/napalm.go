package distributor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

var (
	napalmFinalPriceExpr = regexp.MustCompile(`"final_price"[:\s]*"?([\d.]+)"?`)
	napalmDigitsExpr     = regexp.MustCompile(`\d+`)
)

// napalmLabel is the only label the Napalm Records shop sells.
const napalmLabel = "Napalm Records"

// NapalmRecords parses the napalmrecords.com Magento shop.
type NapalmRecords struct{}

// NewNapalmRecords returns the Napalm Records strategy.
func NewNapalmRecords() *NapalmRecords { return &NapalmRecords{} }

// Code implements Strategy.
func (*NapalmRecords) Code() catalog.DistributorCode { return catalog.NapalmRecords }

// ParseListing implements Strategy.
func (*NapalmRecords) ParseListing(body []byte, pageURL string) (ListingPage, error) {
	doc, err := parseDocument(body, pageURL)
	if err != nil {
		return ListingPage{}, err
	}

	var page ListingPage
	seen := map[string]struct{}{}
	doc.Find("li.product-item").Each(func(_ int, product *goquery.Selection) {
		link := product.Find("a.product-item-link").First()
		href := resolveURL(pageURL, link.AttrOr("href", ""))
		if href == "" {
			return
		}
		key := strings.ToLower(href)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		album := text(link)
		if album == "" {
			return
		}
		band := text(product.Find("div.custom-band-name"))
		raw := album
		if band != "" {
			raw = band + " - " + album
		}
		page.Items = append(page.Items, catalog.ListingItem{
			URL:       href,
			BandName:  band,
			Title:     album,
			RawTitle:  raw,
			Media:     napalmMedia(href, album),
			SourceURL: pageURL,
		})
	})

	page.NextURL = resolveURL(pageURL, doc.Find("a.action.next").First().AttrOr("href", ""))
	return page, nil
}

// ParseDetail implements Strategy.
func (*NapalmRecords) ParseDetail(body []byte, item catalog.ListingItem) (catalog.RawAlbumRecord, error) {
	doc, err := parseDocument(body, item.URL)
	if err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	titleNode := doc.Find("h1.page-title")
	if titleNode.Length() == 0 {
		titleNode = doc.Find("h1")
	}
	album := text(titleNode)
	rec := catalog.RawAlbumRecord{
		DistributorCode: catalog.NapalmRecords,
		BandName:        napalmAttribute(doc, "Band"),
		Name:            album,
		SKU:             napalmSKU(doc),
		Media:           napalmMedia(item.URL, album),
		ImageURLs:       imageList(resolveURL(item.URL, napalmPhoto(doc))),
		PurchaseURL:     item.URL,
		ReleaseDate:     napalmReleaseDate(napalmAttribute(doc, "Release Date")),
		Genre:           napalmAttribute(doc, "Genre"),
		Label:           napalmLabel,
		Description:     text(doc.Find(`div.description div[class="value"]`)),
	}
	rec.Press = rec.SKU
	if rec.BandName == "" {
		rec.BandName = item.BandName
	}
	if rec.Media == "" {
		rec.Media = item.Media
	}
	if err := requireFields(rec, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	if rec.Price, err = priceField(napalmPrice(body, doc), item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	return rec, nil
}

// napalmAttribute reads a row of the product specification table.
func napalmAttribute(doc *goquery.Document, name string) string {
	return text(doc.Find(fmt.Sprintf(`table#product-attribute-specs-table td[data-th=%q]`, name)))
}

// napalmSKU prefers the "Art. Nr." line, then the add-to-cart form.
func napalmSKU(doc *goquery.Document) (sku string) {
	doc.Find("strong").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		lower := strings.ToLower(s.Text())
		if !strings.Contains(lower, "art") || !strings.Contains(lower, "nr") {
			return true
		}
		if m := napalmDigitsExpr.FindString(s.Parent().Text()); m != "" {
			sku = m
			return false
		}
		return true
	})
	if sku != "" {
		return sku
	}
	return strings.TrimSpace(doc.Find("form[data-product-sku]").First().AttrOr("data-product-sku", ""))
}

// napalmPrice reads the price from the inline price config, then from the
// rendered price wrapper.
func napalmPrice(body []byte, doc *goquery.Document) string {
	if m := napalmFinalPriceExpr.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return strings.TrimSpace(doc.Find("span.price-wrapper").First().AttrOr("data-price-amount", ""))
}

func napalmPhoto(doc *goquery.Document) string {
	if og := strings.TrimSpace(doc.Find(`meta[property="og:image"]`).AttrOr("content", "")); og != "" {
		return og
	}
	return strings.TrimSpace(doc.Find(`img.product-image-photo[src*="/media/catalog/product/"]`).First().AttrOr("src", ""))
}

func napalmReleaseDate(raw string) time.Time {
	if t := parseDate(raw, "Jan 2, 2006", "January 2, 2006"); !t.IsZero() {
		return t
	}
	return parseYear(raw)
}

// napalmMedia infers the format from the category path or the product name.
func napalmMedia(pageURL, name string) catalog.MediaType {
	combined := strings.ToUpper(pageURL + " " + name)
	switch {
	case strings.Contains(combined, "/LPS"), strings.Contains(combined, "- LP"), strings.Contains(combined, "VINYL"):
		return catalog.MediaLP
	case strings.Contains(combined, "/TAPES"), strings.Contains(combined, "TAPE"), strings.Contains(combined, "CASSETTE"):
		return catalog.MediaTape
	case strings.Contains(combined, "/CDS"), strings.Contains(combined, "- CD"), strings.Contains(combined, "DIGIPAK"):
		return catalog.MediaCD
	}
	return ""
}
