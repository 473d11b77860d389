package distributor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

const paragonListingHTML = `<div class="grid grid--uniform grid--view-items">
  <div class="grid__item grid__item--collection-template">
    <a class="grid-view-item__link grid-view-item__image-container" href="/collections/cd/products/darkthrone-transilvanian-hunger-cd"></a>
    <div class="h4 grid-view-item__title product-card__title">Darkthrone - Transilvanian Hunger CD</div>
  </div>
  <div class="grid__item">
    <a class="grid-view-item__link" href="/products/burzum-filosofem-digipak-dcd"></a>
    <div class="grid-view-item__title">Burzum - Filosofem DIGIPAK DCD</div>
  </div>
  <div class="grid__item">
    <a class="grid-view-item__link" href="https://www.paragonrecords.org/collections/cd/products/darkthrone-transilvanian-hunger-cd"></a>
    <div class="grid-view-item__title">Darkthrone - Transilvanian Hunger CD</div>
  </div>
</div>
<ul class="list--inline pagination">
  <li><a href="/collections/cd?page=1" class="btn"><span class="icon__fallback-text">Previous page</span></a></li>
  <li class="pagination__text">Page 1 of 3</li>
  <li><a href="/collections/cd?page=2" class="btn"><span class="icon__fallback-text">Next page</span></a></li>
</ul>`

const paragonDetailHTML = `<html><head>
<meta property="og:image" content="http://cdn.shopify.com/s/files/th.jpg">
<meta property="og:image:secure_url" content="https://cdn.shopify.com/s/files/th.jpg">
<meta property="og:price:amount" content="15.00">
<script>var meta = {"product":{"id":123,"vendor":"Peaceville","type":"CD"}};</script>
</head><body>
<h1 class="product-single__title">Darkthrone - Transilvanian Hunger CD</h1>
<div class="product-single__description rte">Black Metal</div>
<button class="btn product-form__cart-submit"><span id="AddToCartText-product-template">Pre-Order</span></button>
</body></html>`

func TestParagonRecordsParseListing(t *testing.T) {
	t.Parallel()

	page, err := NewParagonRecords().ParseListing([]byte(paragonListingHTML), "https://www.paragonrecords.org/collections/cd")
	require.NoError(t, err)
	require.Len(t, page.Items, 2, "relative and absolute links to one product collapse")

	assert.Equal(t, "https://www.paragonrecords.org/collections/cd/products/darkthrone-transilvanian-hunger-cd", page.Items[0].URL)
	assert.Equal(t, "Darkthrone", page.Items[0].BandName)
	assert.Equal(t, "Transilvanian Hunger", page.Items[0].Title)
	assert.Equal(t, catalog.MediaCD, page.Items[0].Media)

	assert.Equal(t, "Filosofem", page.Items[1].Title, "stacked format words are stripped")
	assert.Equal(t, catalog.MediaCD, page.Items[1].Media)
	assert.Equal(t, "https://www.paragonrecords.org/collections/cd?page=2", page.NextURL)
}

func TestParagonRecordsParseDetail(t *testing.T) {
	t.Parallel()

	item := catalog.ListingItem{URL: "https://www.paragonrecords.org/collections/cd/products/darkthrone-transilvanian-hunger-cd"}
	rec, err := NewParagonRecords().ParseDetail([]byte(paragonDetailHTML), item)
	require.NoError(t, err)

	assert.Equal(t, catalog.ParagonRecords, rec.DistributorCode)
	assert.Equal(t, "Darkthrone", rec.BandName)
	assert.Equal(t, "Transilvanian Hunger", rec.Name)
	assert.Equal(t, "darkthrone-transilvanian-hunger-cd", rec.SKU)
	assert.Empty(t, rec.Press)
	assert.Equal(t, catalog.MediaCD, rec.Media)
	assert.InDelta(t, 15.0, rec.Price, 0.0001)
	assert.Equal(t, []string{"https://cdn.shopify.com/s/files/th.jpg"}, rec.ImageURLs)
	assert.Equal(t, "Peaceville", rec.Label)
	assert.Equal(t, "Black Metal", rec.Genre)
	assert.Equal(t, catalog.AlbumPreOrder, rec.Status)
}

func TestParagonRecordsParseDetailFallbacks(t *testing.T) {
	t.Parallel()

	html := `<head><meta property="og:image" content="http://cdn.shopify.com/s/files/emperor.jpg"></head>
<h1>Emperor - Anthems To The Welkin At Dusk LP</h1>
<span class="product-price__price">$18.00</span>
<button class="product-form__cart-submit">Add to cart</button>`
	item := catalog.ListingItem{URL: "https://www.paragonrecords.org/products/emperor-anthems"}
	rec, err := NewParagonRecords().ParseDetail([]byte(html), item)
	require.NoError(t, err)

	assert.Equal(t, "Anthems To The Welkin At Dusk", rec.Name)
	assert.Equal(t, catalog.MediaLP, rec.Media, "the title decides when the handle has no format")
	assert.InDelta(t, 18.0, rec.Price, 0.0001)
	assert.Equal(t, []string{"https://cdn.shopify.com/s/files/emperor.jpg"}, rec.ImageURLs)
	assert.Empty(t, rec.Label)
	assert.Empty(t, rec.Status)
}

func TestParagonRecordsMissingHandle(t *testing.T) {
	t.Parallel()

	html := `<h1>Emperor - In The Nightside Eclipse CD</h1><meta property="og:price:amount" content="12.00">`
	_, err := NewParagonRecords().ParseDetail([]byte(html), catalog.ListingItem{URL: "https://www.paragonrecords.org/pages/emperor"})
	require.ErrorIs(t, err, catalog.ErrMissingField)
}

func TestStripFormatSuffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Filosofem", stripFormatSuffix("Filosofem Digipak CD"))
	assert.Equal(t, "De Mysteriis Dom Sathanas", stripFormatSuffix("De Mysteriis Dom Sathanas GATEFOLD COLOURED LP"))
	assert.Equal(t, "CD", stripFormatSuffix("CD"), "a name made only of format words is kept")
}
