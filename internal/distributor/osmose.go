package distributor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/normalize"
)

// Osmose parses osmoseproductions.com shop pages.
type Osmose struct{}

// NewOsmose returns the Osmose Productions strategy.
func NewOsmose() *Osmose { return &Osmose{} }

// Code implements Strategy.
func (*Osmose) Code() catalog.DistributorCode { return catalog.OsmoseProductions }

// ParseListing implements Strategy.
func (*Osmose) ParseListing(body []byte, pageURL string) (ListingPage, error) {
	doc, err := parseDocument(body, pageURL)
	if err != nil {
		return ListingPage{}, err
	}

	var page ListingPage
	doc.Find("div.GshopListingABorder").Each(func(_ int, box *goquery.Selection) {
		anchor := box.Find("div.GshopListingARightInfo a").First()
		href := resolveURL(pageURL, anchor.AttrOr("href", ""))
		if href == "" {
			return
		}
		band := text(anchor.Find("span.TtypeC.TcolorC"))
		title := text(anchor.Find("span.TtypeH.TcolorC"))
		page.Items = append(page.Items, catalog.ListingItem{
			URL:       href,
			BandName:  band,
			Title:     title,
			RawTitle:  strings.TrimSpace(band + " - " + title),
			SourceURL: pageURL,
		})
	})

	current, err := strconv.Atoi(text(doc.Find("div.GtoursPaginationButtonTxt.on span")))
	if err == nil {
		next := doc.Find(fmt.Sprintf(`a[href*="page=%d"]`, current+1)).First()
		page.NextURL = resolveURL(pageURL, next.AttrOr("href", ""))
	}
	return page, nil
}

// ParseDetail implements Strategy.
func (*Osmose) ParseDetail(body []byte, item catalog.ListingItem) (catalog.RawAlbumRecord, error) {
	doc, err := parseDocument(body, item.URL)
	if err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	facts := doc.Find("span.cufonEb")
	rec := catalog.RawAlbumRecord{
		DistributorCode: catalog.OsmoseProductions,
		BandName:        text(doc.Find("span.cufonAb a")),
		Name:            osmoseAlbumName(doc.Find("div.column.twelve span.cufonAb").First()),
		SKU:             afterColon(text(labelled(facts, "Press :"))),
		Media:           catalog.ParseMediaType(afterColon(text(labelled(facts, "Media:")))),
		ImageURLs:       imageList(resolveURL(item.URL, doc.Find("div.photo_prod_container a").AttrOr("access_url", ""))),
		PurchaseURL:     item.URL,
		ReleaseDate:     parseYear(afterColon(text(labelled(facts, "Year :")))),
		Label:           text(labelled(facts, "Label :").Find("a")),
		Description:     osmoseDescription(labelled(facts, "Info :")),
		Status:          osmoseStatus(doc),
	}
	rec.Press = rec.SKU
	if rec.Media == "" {
		rec.Media = item.Media
	}
	if err := requireFields(rec, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}

	priceText := strings.ReplaceAll(text(doc.Find("span.cufonCd")), "EUR", " ")
	if rec.Price, err = priceField(priceText, item.URL); err != nil {
		return catalog.RawAlbumRecord{}, err
	}
	return rec, nil
}

// osmoseAlbumName is the span text that follows the band link.
func osmoseAlbumName(span *goquery.Selection) string {
	if span.Length() == 0 {
		return ""
	}
	clone := span.Clone()
	clone.Find("a").Remove()
	return normalize.Text(clone.Text())
}

func osmoseDescription(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	desc := normalize.Text(sel.Text())
	if _, after, ok := strings.Cut(desc, ":"); ok {
		return strings.TrimSpace(after)
	}
	return desc
}

func osmoseStatus(doc *goquery.Document) catalog.AlbumStatus {
	var status catalog.AlbumStatus
	doc.Find(`[class*="info"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		status = catalog.ParseAlbumStatus(s.Text())
		return status == ""
	})
	return status
}
