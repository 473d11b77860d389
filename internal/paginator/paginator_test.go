package paginator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/distributor"
)

// fakeLoader serves canned bodies keyed by URL.
type fakeLoader struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	calls []string
}

func (f *fakeLoader) Load(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.fail[url]; ok {
		return nil, err
	}
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	return []byte(body), nil
}

// chainStrategy reads bodies of the form "item1,item2|next".
type chainStrategy struct{}

func (chainStrategy) Code() catalog.DistributorCode { return catalog.Drakkar }

func (chainStrategy) ParseListing(body []byte, _ string) (distributor.ListingPage, error) {
	items, next, _ := strings.Cut(string(body), "|")
	var page distributor.ListingPage
	for _, u := range strings.Split(items, ",") {
		if u != "" {
			page.Items = append(page.Items, catalog.ListingItem{URL: u})
		}
	}
	page.NextURL = next
	return page, nil
}

func (chainStrategy) ParseDetail([]byte, catalog.ListingItem) (catalog.RawAlbumRecord, error) {
	return catalog.RawAlbumRecord{}, errors.New("not used")
}

func collect(t *testing.T, p *Paginator) []Batch {
	t.Helper()
	var batches []Batch
	for p.Next(context.Background()) {
		batches = append(batches, p.Batch())
	}
	return batches
}

// TestPaginatorYieldsEveryPageOfChain ensures a chain of k pages yields k batches.
func TestPaginatorYieldsEveryPageOfChain(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{pages: map[string]string{
		"https://s/1": "a,b|https://s/2",
		"https://s/2": "c|https://s/3",
		"https://s/3": "|",
	}}
	p := New(loader, chainStrategy{}, "https://s/1", WithCategoryMedia(catalog.MediaLP))

	batches := collect(t, p)
	require.NoError(t, p.Err())
	require.Len(t, batches, 3)
	assert.Equal(t, 3, p.Pages())
	assert.Len(t, batches[0].Items, 2)
	assert.Empty(t, batches[2].Items)
	assert.Equal(t, catalog.MediaLP, batches[0].Items[0].Media)
	assert.Equal(t, "https://s/1", batches[0].Items[0].SourceURL)
	assert.False(t, p.Next(context.Background()), "walk is not restartable")
}

func TestPaginatorDetectsCycle(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{pages: map[string]string{
		"https://s/1": "a|https://s/2",
		"https://s/2": "b|https://S/1#top",
	}}
	p := New(loader, chainStrategy{}, "https://s/1")

	batches := collect(t, p)
	assert.Len(t, batches, 2)
	require.ErrorIs(t, p.Err(), catalog.ErrCycleDetected)
	assert.Len(t, loader.calls, 2)
}

func TestPaginatorDetectsSelfReference(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{pages: map[string]string{"https://s/1": "a|https://s/1"}}
	p := New(loader, chainStrategy{}, "https://s/1")

	assert.Len(t, collect(t, p), 1)
	require.ErrorIs(t, p.Err(), catalog.ErrCycleDetected)
}

func TestPaginatorPageCeiling(t *testing.T) {
	t.Parallel()

	pages := map[string]string{}
	for i := 1; i <= 10; i++ {
		pages[fmt.Sprintf("https://s/%d", i)] = fmt.Sprintf("x%d|https://s/%d", i, i+1)
	}
	p := New(&fakeLoader{pages: pages}, chainStrategy{}, "https://s/1", WithMaxPages(4))

	assert.Len(t, collect(t, p), 4)
	var pagErr *catalog.PaginationError
	require.ErrorAs(t, p.Err(), &pagErr)
	assert.Equal(t, catalog.PageLimitExceeded, pagErr.Kind)
	assert.Equal(t, 5, pagErr.Page)
}

func TestPaginatorStopsOnFetchFailure(t *testing.T) {
	t.Parallel()

	blocked := &catalog.FetchError{Kind: catalog.FetchBlocked, URL: "https://s/2", Attempts: 3}
	loader := &fakeLoader{
		pages: map[string]string{"https://s/1": "a|https://s/2", "https://s/3": "c|"},
		fail:  map[string]error{"https://s/2": blocked},
	}
	p := New(loader, chainStrategy{}, "https://s/1")

	assert.Len(t, collect(t, p), 1)
	require.ErrorIs(t, p.Err(), catalog.ErrBlocked)
	assert.NotContains(t, loader.calls, "https://s/3")
}

func TestPaginatorHonorsCancellation(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{pages: map[string]string{"https://s/1": "a|"}}
	p := New(loader, chainStrategy{}, "https://s/1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.Next(ctx))
	require.ErrorIs(t, p.Err(), context.Canceled)
	assert.Empty(t, loader.calls)
}

func TestPaginatorEmptyStart(t *testing.T) {
	t.Parallel()

	p := New(&fakeLoader{}, chainStrategy{}, "")
	assert.False(t, p.Next(context.Background()))
	require.NoError(t, p.Err())
}
