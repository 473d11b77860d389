package catalogsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := catalog.RawAlbumRecord{BandName: "Emperor", Name: "Anthems", SKU: "E1", Price: 12.5, Media: catalog.MediaLP}
	require.NoError(t, Validate(valid))

	tests := []struct {
		name   string
		mutate func(*catalog.RawAlbumRecord)
		field  string
	}{
		{"blank band", func(r *catalog.RawAlbumRecord) { r.BandName = "  " }, "bandName"},
		{"no name", func(r *catalog.RawAlbumRecord) { r.Name = "" }, "name"},
		{"no sku", func(r *catalog.RawAlbumRecord) { r.SKU = "" }, "sku"},
		{"zero price", func(r *catalog.RawAlbumRecord) { r.Price = 0 }, "price"},
		{"negative price", func(r *catalog.RawAlbumRecord) { r.Price = -3 }, "price"},
		{"no media", func(r *catalog.RawAlbumRecord) { r.Media = "" }, "media"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := valid
			tt.mutate(&rec)
			err := Validate(rec)
			require.ErrorIs(t, err, catalog.ErrValidation)
			var verr *catalog.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
