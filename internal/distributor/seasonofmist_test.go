package distributor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

const somListingHTML = `<div class="category-products"><div class="products-grid">
  <div class="item"><h2 class="product-name"><a href="https://shop.season-of-mist.com/gorgoroth-under-the-sign-of-hell-cd">Gorgoroth - Under The Sign Of Hell - CD</a></h2></div>
  <div class="item"><h2 class="product-name"><a href="/mayhem-daemon-lp">Mayhem - Daemon</a></h2></div>
  <div class="item"><h2 class="product-name"><a href="/label-sampler">Sampler</a></h2></div>
  <div class="item"><h2 class="product-name"><a href="https://shop.season-of-mist.com/gorgoroth-under-the-sign-of-hell-cd">again</a></h2></div>
</div></div>
<a class="next i-next" href="https://shop.season-of-mist.com/music?cat=3&amp;p=2" title="Next">Next</a>`

const somDetailHTML = `<div class="product-img-box"><img src="https://shop.season-of-mist.com/media/catalog/product/g/o/gorgoroth.jpg"></div>
<div class="price-box"><span class="regular-price"><span class="price">14,99 €</span></span></div>
<button type="button" class="button btn-cart"><span>Pre-Order</span></button>
<table id="product-attribute-specs-table">
  <tr><th class="label">Band</th><td class="data">Gorgoroth</td></tr>
  <tr><th class="label">Title</th><td class="data">Under The Sign Of Hell</td></tr>
  <tr><th class="label">Catalog #</th><td class="data">SOM 456</td></tr>
  <tr><th class="label">Label</th><td class="data">Season of Mist</td></tr>
  <tr><th class="label">Release Date</th><td class="data">25 Oct 2024</td></tr>
  <tr><th class="label">Generic musical style</th><td class="data">Metal</td></tr>
  <tr><th class="label">Detailed musical style</th><td class="data">Black Metal</td></tr>
</table>`

func TestSeasonOfMistParseListing(t *testing.T) {
	t.Parallel()

	page, err := NewSeasonOfMist().ParseListing([]byte(somListingHTML), "https://shop.season-of-mist.com/music?cat=3")
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	assert.Equal(t, "Gorgoroth", page.Items[0].BandName)
	assert.Equal(t, "Under The Sign Of Hell", page.Items[0].Title, "the trailing format part is dropped")
	assert.Equal(t, catalog.MediaCD, page.Items[0].Media)

	assert.Equal(t, "https://shop.season-of-mist.com/mayhem-daemon-lp", page.Items[1].URL)
	assert.Equal(t, "Daemon", page.Items[1].Title)
	assert.Equal(t, catalog.MediaLP, page.Items[1].Media)

	assert.Empty(t, page.Items[2].BandName)
	assert.Equal(t, "Sampler", page.Items[2].Title)
	assert.Equal(t, "https://shop.season-of-mist.com/music?cat=3&p=2", page.NextURL)
}

func TestSeasonOfMistParseDetail(t *testing.T) {
	t.Parallel()

	item := catalog.ListingItem{URL: "https://shop.season-of-mist.com/gorgoroth-under-the-sign-of-hell-cd"}
	rec, err := NewSeasonOfMist().ParseDetail([]byte(somDetailHTML), item)
	require.NoError(t, err)

	assert.Equal(t, catalog.SeasonOfMist, rec.DistributorCode)
	assert.Equal(t, "Gorgoroth", rec.BandName)
	assert.Equal(t, "Under The Sign Of Hell", rec.Name)
	assert.Equal(t, "SOM 456", rec.SKU)
	assert.Equal(t, rec.SKU, rec.Press)
	assert.Equal(t, catalog.MediaCD, rec.Media)
	assert.InDelta(t, 14.99, rec.Price, 0.0001)
	assert.Equal(t, []string{"https://shop.season-of-mist.com/media/catalog/product/g/o/gorgoroth.jpg"}, rec.ImageURLs)
	assert.Equal(t, "Season of Mist", rec.Label)
	assert.Equal(t, "Black Metal", rec.Genre)
	assert.Equal(t, time.Date(2024, time.October, 25, 0, 0, 0, 0, time.UTC), rec.ReleaseDate)
	assert.Equal(t, catalog.AlbumPreOrder, rec.Status)
}

func TestSeasonOfMistParseDetailFallbacks(t *testing.T) {
	t.Parallel()

	html := `<a class="product-image" href="#"><img src="/media/catalog/product/m/d.jpg"></a>
<span class="price">€ 21.00</span>
<button type="submit" class="add-to-cart">Add to Cart</button>
<table id="product-attribute-specs-table">
  <tr><th>Band</th><td>Mayhem</td></tr>
  <tr><th>Title</th><td>Daemon</td></tr>
  <tr><th>Catalog #</th><td>SOM 999</td></tr>
  <tr><th>Generic musical style</th><td>Metal</td></tr>
</table>`
	item := catalog.ListingItem{URL: "https://shop.season-of-mist.com/mayhem-daemon", Media: catalog.MediaTape}
	rec, err := NewSeasonOfMist().ParseDetail([]byte(html), item)
	require.NoError(t, err)

	assert.Equal(t, catalog.MediaTape, rec.Media, "the category media applies without a slug suffix")
	assert.Equal(t, "Metal", rec.Genre)
	assert.InDelta(t, 21.0, rec.Price, 0.0001)
	assert.Equal(t, []string{"https://shop.season-of-mist.com/media/catalog/product/m/d.jpg"}, rec.ImageURLs)
	assert.True(t, rec.ReleaseDate.IsZero())
	assert.Empty(t, rec.Status)
}

func TestSeasonOfMistMissingCatalogNumber(t *testing.T) {
	t.Parallel()

	html := `<span class="price">10,00 €</span><table id="product-attribute-specs-table">
<tr><th>Band</th><td>Mayhem</td></tr><tr><th>Title</th><td>Daemon</td></tr></table>`
	_, err := NewSeasonOfMist().ParseDetail([]byte(html), catalog.ListingItem{URL: "https://shop.season-of-mist.com/mayhem-daemon-cd"})
	require.ErrorIs(t, err, catalog.ErrMissingField)
}
