package distributor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

const napalmListingHTML = `<ol class="products list items product-items">
<li class="item product product-item">
  <div class="custom-band-name">Powerwolf</div>
  <a class="product-item-link" href="https://napalmrecords.com/english/powerwolf-wake-up-the-wicked-digipak-cd">Wake Up The Wicked - Digipak CD</a>
</li>
<li class="item product product-item">
  <a class="product-item-link" href="https://napalmrecords.com/english/powerwolf-wake-up-the-wicked-digipak-cd">Wake Up The Wicked</a>
</li>
<li class="item product product-item">
  <a class="product-item-link" href="/english/napalm-sampler">Napalm Sampler</a>
</li>
<li class="item product product-item"><div class="custom-band-name">Nameless</div></li>
</ol>
<a class="action next" href="https://napalmrecords.com/english/music/cds?p=2">Next</a>`

const napalmDetailHTML = `<html><head>
<meta property="og:image" content="https://napalmrecords.com/media/catalog/product/w/u/wutw.jpg">
</head><body>
<h1 class="page-title"><span class="base">Wake Up The Wicked - Digipak CD</span></h1>
<div class="product-info-stock-sku"><div class="sku"><strong class="type">Art. Nr.:</strong> <div class="value">512345</div></div></div>
<script type="text/x-magento-init">{"#product_addtocart_form":{"priceBox":{"priceConfig":{"final_price":"17.99"}}}}</script>
<table id="product-attribute-specs-table">
  <tr><th>Band</th><td data-th="Band">Powerwolf</td></tr>
  <tr><th>Genre</th><td data-th="Genre">Power Metal</td></tr>
  <tr><th>Release Date</th><td data-th="Release Date">Jul 26, 2024</td></tr>
</table>
<div class="product attribute description"><div class="value">The ninth studio album.</div></div>
</body></html>`

func TestNapalmRecordsParseListing(t *testing.T) {
	t.Parallel()

	pageURL := "https://napalmrecords.com/english/music/cds?product_list_dir=desc&product_list_order=release_date"
	page, err := NewNapalmRecords().ParseListing([]byte(napalmListingHTML), pageURL)
	require.NoError(t, err)
	require.Len(t, page.Items, 2, "duplicates and cards without a link are dropped")

	first := page.Items[0]
	assert.Equal(t, "Powerwolf", first.BandName)
	assert.Equal(t, "Wake Up The Wicked - Digipak CD", first.Title)
	assert.Equal(t, "Powerwolf - Wake Up The Wicked - Digipak CD", first.RawTitle)
	assert.Equal(t, catalog.MediaCD, first.Media)

	assert.Equal(t, "https://napalmrecords.com/english/napalm-sampler", page.Items[1].URL)
	assert.Empty(t, page.Items[1].BandName)
	assert.Empty(t, page.Items[1].Media, "the category decides the media")
	assert.Equal(t, "https://napalmrecords.com/english/music/cds?p=2", page.NextURL)
}

func TestNapalmRecordsParseDetail(t *testing.T) {
	t.Parallel()

	item := catalog.ListingItem{URL: "https://napalmrecords.com/english/powerwolf-wake-up-the-wicked-digipak-cd"}
	rec, err := NewNapalmRecords().ParseDetail([]byte(napalmDetailHTML), item)
	require.NoError(t, err)

	assert.Equal(t, catalog.NapalmRecords, rec.DistributorCode)
	assert.Equal(t, "Powerwolf", rec.BandName)
	assert.Equal(t, "Wake Up The Wicked - Digipak CD", rec.Name)
	assert.Equal(t, "512345", rec.SKU)
	assert.Equal(t, rec.SKU, rec.Press)
	assert.Equal(t, catalog.MediaCD, rec.Media)
	assert.InDelta(t, 17.99, rec.Price, 0.0001)
	assert.Equal(t, []string{"https://napalmrecords.com/media/catalog/product/w/u/wutw.jpg"}, rec.ImageURLs)
	assert.Equal(t, "Power Metal", rec.Genre)
	assert.Equal(t, "Napalm Records", rec.Label)
	assert.Equal(t, time.Date(2024, time.July, 26, 0, 0, 0, 0, time.UTC), rec.ReleaseDate)
	assert.Equal(t, "The ninth studio album.", rec.Description)
}

func TestNapalmRecordsParseDetailFallbacks(t *testing.T) {
	t.Parallel()

	html := `<h1>Wanderers - LP Gatefold</h1>
<form id="product_addtocart_form" data-product-sku="NPR1234"></form>
<span class="price-container"><span class="price-wrapper" data-price-amount="24.9"><span class="price">24,90 €</span></span></span>
<img class="product-image-photo" src="https://napalmrecords.com/media/catalog/product/w/a/wanderers.jpg">
<table id="product-attribute-specs-table"><tr><td data-th="Release Date">2019</td></tr></table>`
	item := catalog.ListingItem{URL: "https://napalmrecords.com/english/wanderers", BandName: "Visions of Atlantis"}
	rec, err := NewNapalmRecords().ParseDetail([]byte(html), item)
	require.NoError(t, err)

	assert.Equal(t, "Visions of Atlantis", rec.BandName, "the listing band fills a missing attribute")
	assert.Equal(t, "NPR1234", rec.SKU)
	assert.Equal(t, catalog.MediaLP, rec.Media)
	assert.InDelta(t, 24.9, rec.Price, 0.0001)
	assert.Equal(t, []string{"https://napalmrecords.com/media/catalog/product/w/a/wanderers.jpg"}, rec.ImageURLs)
	assert.Equal(t, 2019, rec.ReleaseDate.Year())
}

func TestNapalmRecordsMissingSKU(t *testing.T) {
	t.Parallel()

	html := `<h1>Untitled - CD</h1><table id="product-attribute-specs-table"><tr><td data-th="Band">X</td></tr></table>`
	_, err := NewNapalmRecords().ParseDetail([]byte(html), catalog.ListingItem{URL: "https://napalmrecords.com/english/untitled"})
	require.ErrorIs(t, err, catalog.ErrMissingField)
}
