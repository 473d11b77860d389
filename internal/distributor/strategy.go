// Package distributor holds the per-site listing and detail page rules.
//
// Each supported distributor contributes one Strategy. Strategies are pure:
// they receive already fetched HTML and never perform I/O, which keeps
// pagination and fetching concerns in the paginator and parser packages.
package distributor

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// ListingPage is the parsed content of one listing page.
type ListingPage struct {
	Items []catalog.ListingItem
	// NextURL is empty on the last page.
	NextURL string
}

// Strategy extracts listing references and album records for one distributor.
type Strategy interface {
	Code() catalog.DistributorCode
	ParseListing(body []byte, pageURL string) (ListingPage, error)
	// ParseDetail returns a *catalog.ParseError when a required field is
	// missing or malformed.
	ParseDetail(body []byte, item catalog.ListingItem) (catalog.RawAlbumRecord, error)
}

// Registry maps distributor codes to their strategies.
type Registry struct {
	strategies map[catalog.DistributorCode]Strategy
}

// NewRegistry builds a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: map[catalog.DistributorCode]Strategy{}}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry registers every built-in strategy.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewOsmose(),
		NewDrakkar(),
		NewBlackMetalVendor(),
		NewBlackMetalStore(),
		NewNapalmRecords(),
		NewSeasonOfMist(),
		NewParagonRecords(),
	)
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	if r.strategies == nil {
		r.strategies = map[catalog.DistributorCode]Strategy{}
	}
	r.strategies[s.Code()] = s
}

// Resolve returns the strategy for code or an error if none is registered.
func (r *Registry) Resolve(code catalog.DistributorCode) (Strategy, error) {
	if s, ok := r.strategies[code]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no strategy registered for distributor %s", code)
}

// Codes lists the registered distributors in ascending order.
func (r *Registry) Codes() []catalog.DistributorCode {
	codes := make([]catalog.DistributorCode, 0, len(r.strategies))
	for code := range r.strategies {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
