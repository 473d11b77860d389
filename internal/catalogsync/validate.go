package catalogsync

import (
	"strings"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// Validate checks the fields a catalog entry cannot do without.
func Validate(rec catalog.RawAlbumRecord) error {
	switch {
	case strings.TrimSpace(rec.BandName) == "":
		return &catalog.ValidationError{Field: "bandName", Reason: "empty"}
	case strings.TrimSpace(rec.Name) == "":
		return &catalog.ValidationError{Field: "name", Reason: "empty"}
	case strings.TrimSpace(rec.SKU) == "":
		return &catalog.ValidationError{Field: "sku", Reason: "empty"}
	case rec.Price <= 0:
		return &catalog.ValidationError{Field: "price", Reason: "must be positive"}
	case rec.Media == "":
		return &catalog.ValidationError{Field: "media", Reason: "empty"}
	}
	return nil
}
