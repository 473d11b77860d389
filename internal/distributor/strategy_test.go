package distributor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry()
	all := []catalog.DistributorCode{
		catalog.OsmoseProductions, catalog.Drakkar, catalog.BlackMetalVendor, catalog.BlackMetalStore,
		catalog.NapalmRecords, catalog.SeasonOfMist, catalog.ParagonRecords,
	}
	for _, code := range all {
		s, err := reg.Resolve(code)
		require.NoError(t, err)
		assert.Equal(t, code, s.Code())
	}
	assert.Equal(t, []catalog.DistributorCode{1, 2, 3, 4, 5, 6, 7}, reg.Codes())

	_, err := reg.Resolve(catalog.DistributorCode(99))
	require.Error(t, err)

	var empty Registry
	empty.Register(NewDrakkar())
	_, err = empty.Resolve(catalog.Drakkar)
	require.NoError(t, err)
	_, err = empty.Resolve(catalog.SeasonOfMist)
	require.Error(t, err)
}

const catalogueYAML = `
distributors:
  - distributor: OsmoseProductions
    categories:
      - name: cd
        url: https://www.osmoseproductions.com/en/liste/?cat=cd
        media: CD
      - name: lp
        url: https://www.osmoseproductions.com/en/liste/?cat=lp
        media: LP
  - distributor: "2"
    enabled: false
    categories:
      - url: https://www.drakkar666.com/shop/
`

func TestLoadCatalogue(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "distributors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogueYAML), 0o600))

	c, err := LoadCatalogue(path)
	require.NoError(t, err)
	require.Len(t, c.Distributors, 2)

	osmose, err := c.Lookup(catalog.OsmoseProductions)
	require.NoError(t, err)
	require.Len(t, osmose.Categories, 2)
	assert.Equal(t, catalog.MediaLP, osmose.Categories[1].Media)

	enabled := c.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, catalog.OsmoseProductions, enabled[0].Code)

	_, err = c.Lookup(catalog.NapalmRecords)
	require.ErrorIs(t, err, ErrUnknownDistributor)
}

func TestParseCatalogueRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown distributor": "distributors:\n  - distributor: Nowhere\n    categories: [{url: x}]\n",
		"duplicate":           "distributors:\n  - distributor: 1\n    categories: [{url: x}]\n  - distributor: OsmoseProductions\n    categories: [{url: y}]\n",
		"no categories":       "distributors:\n  - distributor: 1\n",
		"missing url":         "distributors:\n  - distributor: 1\n    categories: [{name: cd}]\n",
		"bad media":           "distributors:\n  - distributor: 1\n    categories: [{url: x, media: Vinyl}]\n",
		"malformed":           "distributors: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCatalogue([]byte(doc))
			require.Error(t, err)
		})
	}
}

// TestShippedCatalogueResolves keeps configs/distributors.yaml and the
// registry in step.
func TestShippedCatalogueResolves(t *testing.T) {
	t.Parallel()

	c, err := LoadCatalogue(filepath.Join("..", "..", "configs", "distributors.yaml"))
	require.NoError(t, err)
	require.Len(t, c.Distributors, 7)

	reg := DefaultRegistry()
	for _, e := range c.Enabled() {
		_, err := reg.Resolve(e.Code)
		require.NoError(t, err, e.Code.String())
	}
}
