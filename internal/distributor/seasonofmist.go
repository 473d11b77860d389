package distributor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// SeasonOfMist parses the shop.season-of-mist.com Magento shop.
type SeasonOfMist struct{}

// NewSeasonOfMist returns the Season of Mist strategy.
func NewSeasonOfMist() *SeasonOfMist { return &SeasonOfMist{} }

// Code implements Strategy.
func (*SeasonOfMist) Code() catalog.DistributorCode { return catalog.SeasonOfMist }

// ParseListing implements Strategy.
func (*SeasonOfMist) ParseListing(body []byte, pageURL string) (ListingPage, error) {
	doc, err := parseDocument(body, pageURL)
	if err != nil {
		return ListingPage{}, err
	}

	var page ListingPage
	seen := map[string]struct{}{}
	doc.Find("div.products-grid div.item").Each(func(_ int, product *goquery.Selection) {
		link := product.Find("h2.product-name > a").First()
		href := resolveURL(pageURL, link.AttrOr("href", ""))
		if href == "" {
			return
		}
		key := strings.ToLower(href)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		title := text(link)
		if title == "" {
			return
		}
		band, album := somSplitName(title)
		page.Items = append(page.Items, catalog.ListingItem{
			URL:       href,
			BandName:  band,
			Title:     album,
			RawTitle:  title,
			Media:     somMedia(href),
			SourceURL: pageURL,
		})
	})

	page.NextURL = resolveURL(pageURL, doc.Find(`a.next, a[title="Next"]`).First().AttrOr("href", ""))
	return page, nil
}

// ParseDetail implements Strategy.
func (*SeasonOfMist) ParseDetail(body []byte, item catalog.ListingItem) (catalog.RawAlbumRecord, error) {
	doc, err := parseDocument(body, item.URL)
	if err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	attrs := somAttributes(doc)

	rec := catalog.RawAlbumRecord{
		DistributorCode: catalog.SeasonOfMist,
		BandName:        attrs["Band"],
		Name:            attrs["Title"],
		SKU:             attrs["Catalog #"],
		Media:           somMedia(item.URL),
		ImageURLs:       imageList(resolveURL(item.URL, somPhoto(doc))),
		PurchaseURL:     item.URL,
		ReleaseDate:     parseDate(attrs["Release Date"], "2 Jan 2006", "2 January 2006", "02 Jan 2006"),
		Genre:           attrs["Detailed musical style"],
		Label:           attrs["Label"],
		Status:          somStatus(doc),
	}
	rec.Press = rec.SKU
	if rec.Genre == "" {
		rec.Genre = attrs["Generic musical style"]
	}
	if rec.Media == "" {
		rec.Media = item.Media
	}
	if err := requireFields(rec, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	if rec.Price, err = priceField(text(doc.Find(`span[class*="price"]`)), item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	return rec, nil
}

// somAttributes maps the header cells of the specification table to the
// first data cell after each.
func somAttributes(doc *goquery.Document) map[string]string {
	attrs := map[string]string{}
	doc.Find("table#product-attribute-specs-table th").Each(func(_ int, th *goquery.Selection) {
		name := text(th)
		if _, ok := attrs[name]; ok || name == "" {
			return
		}
		if v := text(th.NextAllFiltered("td")); v != "" {
			attrs[name] = v
		}
	})
	return attrs
}

// somSplitName splits "Band - Album - Format" names. The trailing part is
// the format when there are three or more parts.
func somSplitName(raw string) (band, album string) {
	parts := strings.Split(raw, " - ")
	switch {
	case len(parts) >= 3:
		return strings.TrimSpace(parts[0]), strings.TrimSpace(strings.Join(parts[1:len(parts)-1], " - "))
	case len(parts) == 2:
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return "", strings.TrimSpace(raw)
}

// somMedia reads the format suffix of the product slug.
func somMedia(pageURL string) catalog.MediaType {
	slug := strings.ToUpper(pageURL)
	switch {
	case strings.Contains(slug, "-LP"), strings.Contains(slug, "-VINYL"):
		return catalog.MediaLP
	case strings.Contains(slug, "-CASSETTE"), strings.Contains(slug, "-TAPE"):
		return catalog.MediaTape
	case strings.Contains(slug, "-CD"):
		return catalog.MediaCD
	}
	return ""
}

func somPhoto(doc *goquery.Document) string {
	img := doc.Find("div.product-img-box img").First()
	if img.Length() == 0 {
		img = doc.Find("a.product-image img").First()
	}
	return strings.TrimSpace(img.AttrOr("src", ""))
}

func somStatus(doc *goquery.Document) catalog.AlbumStatus {
	button := doc.Find("button.btn-cart")
	if button.Length() == 0 {
		button = doc.Find(`button[type="submit"][class*="add"]`)
	}
	return preOrderStatus(text(button))
}
