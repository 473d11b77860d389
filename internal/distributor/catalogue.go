package distributor

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// Category is one listing start URL. Media, when set, is inherited by items
// whose detail page carries no media keyword.
type Category struct {
	Name  string            `yaml:"name"`
	URL   string            `yaml:"url"`
	Media catalog.MediaType `yaml:"media"`
}

// Entry configures one distributor.
type Entry struct {
	Distributor string     `yaml:"distributor"`
	Enabled     *bool      `yaml:"enabled"`
	Categories  []Category `yaml:"categories"`

	Code catalog.DistributorCode `yaml:"-"`
}

// IsEnabled defaults to true when the flag is absent.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Catalogue is the distributors.yaml document.
type Catalogue struct {
	Distributors []Entry `yaml:"distributors"`
}

// LoadCatalogue reads and validates a catalogue file.
func LoadCatalogue(path string) (Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalogue{}, fmt.Errorf("read catalogue: %w", err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue decodes a catalogue document. Distributors may be given by
// name or numeric code.
func ParseCatalogue(data []byte) (Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalogue{}, fmt.Errorf("decode catalogue: %w", err)
	}
	seen := map[catalog.DistributorCode]struct{}{}
	for i := range c.Distributors {
		e := &c.Distributors[i]
		code, err := catalog.ParseDistributorCode(e.Distributor)
		if err != nil {
			return Catalogue{}, fmt.Errorf("catalogue entry %d: %w", i, err)
		}
		if _, dup := seen[code]; dup {
			return Catalogue{}, fmt.Errorf("catalogue entry %d: duplicate distributor %s", i, code)
		}
		seen[code] = struct{}{}
		e.Code = code
		if len(e.Categories) == 0 {
			return Catalogue{}, fmt.Errorf("catalogue entry %s: no categories", code)
		}
		for j, cat := range e.Categories {
			if cat.URL == "" {
				return Catalogue{}, fmt.Errorf("catalogue entry %s: category %d has no url", code, j)
			}
			switch cat.Media {
			case "", catalog.MediaCD, catalog.MediaLP, catalog.MediaTape:
			default:
				return Catalogue{}, fmt.Errorf("catalogue entry %s: unknown media %q", code, cat.Media)
			}
		}
	}
	return c, nil
}

// ErrUnknownDistributor is returned by Lookup for codes absent from the catalogue.
var ErrUnknownDistributor = errors.New("distributor not in catalogue")

// Lookup returns the entry for code.
func (c Catalogue) Lookup(code catalog.DistributorCode) (Entry, error) {
	for _, e := range c.Distributors {
		if e.Code == code {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrUnknownDistributor, code)
}

// Enabled returns the entries that should be crawled.
func (c Catalogue) Enabled() []Entry {
	var out []Entry
	for _, e := range c.Distributors {
		if e.IsEnabled() {
			out = append(out, e)
		}
	}
	return out
}
