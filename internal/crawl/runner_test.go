package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/antibot"
	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/catalogsync"
	"github.com/JakeFAU/metal-release-crawler/internal/distributor"
	"github.com/JakeFAU/metal-release-crawler/internal/id/uuid"
	"github.com/JakeFAU/metal-release-crawler/internal/publisher"
	pubmemory "github.com/JakeFAU/metal-release-crawler/internal/publisher/memory"
	queuememory "github.com/JakeFAU/metal-release-crawler/internal/queue/memory"
	"github.com/JakeFAU/metal-release-crawler/internal/retry"
	"github.com/JakeFAU/metal-release-crawler/internal/session"
	"github.com/JakeFAU/metal-release-crawler/internal/storage/memory"
)

const (
	parsedTopic    = "album-parsed"
	processedTopic = "album-processed"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// lineStrategy parses a plain-text site: listing pages hold "item <url>" and
// "next <url>" lines, detail pages hold "<field> <value>" lines.
type lineStrategy struct{}

func (lineStrategy) Code() catalog.DistributorCode { return catalog.Drakkar }

func (lineStrategy) ParseListing(body []byte, _ string) (distributor.ListingPage, error) {
	var page distributor.ListingPage
	for _, line := range strings.Split(string(body), "\n") {
		key, value, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch key {
		case "item":
			page.Items = append(page.Items, catalog.ListingItem{URL: value})
		case "next":
			page.NextURL = value
		}
	}
	return page, nil
}

func (lineStrategy) ParseDetail(body []byte, item catalog.ListingItem) (catalog.RawAlbumRecord, error) {
	rec := catalog.RawAlbumRecord{Media: item.Media}
	for _, line := range strings.Split(string(body), "\n") {
		key, value, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch key {
		case "sku":
			rec.SKU = value
		case "band":
			rec.BandName = value
		case "name":
			rec.Name = value
		case "price":
			rec.Price, _ = strconv.ParseFloat(value, 64)
		case "media":
			rec.Media = catalog.ParseMediaType(value)
		}
	}
	if rec.SKU == "" {
		return rec, &catalog.ParseError{Kind: catalog.MissingField, URL: item.URL, Field: "sku"}
	}
	return rec, nil
}

// site serves pages by URL. blockAll answers every request with a 403.
type site struct {
	mu       sync.Mutex
	pages    map[string]string
	blockAll bool
	calls    int
	wait     bool
}

func (s *site) Fetch(ctx context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	s.mu.Lock()
	s.calls++
	blocked, wait := s.blockAll, s.wait
	body, ok := s.pages[req.URL]
	s.mu.Unlock()
	if wait {
		<-ctx.Done()
		return catalog.FetchResponse{}, ctx.Err()
	}
	if blocked {
		return catalog.FetchResponse{URL: req.URL, StatusCode: http.StatusForbidden, Body: []byte("<title>Just a moment...</title>")}, nil
	}
	if !ok {
		return catalog.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return catalog.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (s *site) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// shopPages is two listing pages with five distinct albums; the last one has no sku.
func shopPages() map[string]string {
	pages := map[string]string{
		"https://shop.test/cd?page=1": "item https://shop.test/a/1\nitem https://shop.test/a/2\nitem https://shop.test/a/3\nnext https://shop.test/cd?page=2",
		"https://shop.test/cd?page=2": "item https://shop.test/a/3\nitem https://shop.test/a/4\nitem https://shop.test/a/5",
	}
	for i := 1; i <= 4; i++ {
		pages[fmt.Sprintf("https://shop.test/a/%d", i)] = fmt.Sprintf("sku DK-%d\nband Band %d\nname Album %d - Digipak CD\nprice 1%d.50", i, i, i, i)
	}
	pages["https://shop.test/a/5"] = "band Nameless\nname Untitled\nprice 9"
	return pages
}

// flakySessions fails BeginProcessing a fixed number of times before
// delegating to the real manager.
type flakySessions struct {
	*session.Manager
	mu       sync.Mutex
	failures int
	begins   int
}

func (s *flakySessions) BeginProcessing(ctx context.Context, id string) error {
	s.mu.Lock()
	s.begins++
	fail := s.begins <= s.failures
	s.mu.Unlock()
	if fail {
		return &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: "session/" + id, Err: errors.New("connection reset")}
	}
	return s.Manager.BeginProcessing(ctx, id)
}

type fixture struct {
	runner   *Runner
	deps     Deps
	cfg      Config
	sessions *session.Manager
	pub      *pubmemory.Publisher
	queue    *queuememory.Queue
	blobs    *memory.BlobStore
	clock    fixedClock
	released int
}

func newFixture(t *testing.T, cfg Config, strategies ...antibot.Strategy) *fixture {
	t.Helper()
	clock := fixedClock{t: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)}
	f := &fixture{
		sessions: session.NewManager(memory.NewSessionStore(), uuid.New(), clock, nil),
		pub:      pubmemory.New(),
		queue:    queuememory.NewQueue(8),
		blobs:    memory.NewBlobStore(),
		clock:    clock,
	}
	f.pub.Bind(parsedTopic, f.queue)

	fast := retry.NewExponential(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	events, err := publisher.New(publisher.Config{Topic: parsedTopic}, f.blobs, f.pub, f.sessions, clock, fast, nil)
	require.NoError(t, err)

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = time.Second
	}
	f.cfg = cfg
	f.deps = Deps{
		Sessions:  f.sessions,
		Registry:  distributor.NewRegistry(lineStrategy{}),
		Publisher: events,
		Strategies: func(context.Context, catalog.DistributorCode) ([]antibot.Strategy, func(context.Context), error) {
			return strategies, func(context.Context) { f.released++ }, nil
		},
		Clock: clock,
	}
	f.runner, err = NewRunner(cfg, f.deps, nil)
	require.NoError(t, err)
	return f
}

func shopEntry() distributor.Entry {
	return distributor.Entry{
		Code:       catalog.Drakkar,
		Categories: []distributor.Category{{Name: "cd", URL: "https://shop.test/cd?page=1", Media: catalog.MediaCD}},
	}
}

// TestRunCrawlsParsesAndSyncs ensures a full crawl feeds the catalog through the parsed event.
func TestRunCrawlsParsesAndSyncs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shop := &site{pages: shopPages()}
	f := newFixture(t, Config{DetailConcurrency: 2}, antibot.Strategy{Name: "plain", Fetcher: shop})

	res, err := f.runner.Run(ctx, shopEntry())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 5, res.Items)
	assert.Equal(t, 4, res.Records)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, f.released)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, catalog.SessionProcessed, sess.Status)
	require.NotNil(t, sess.ProcessedDate)

	require.Equal(t, 1, f.queue.Len())
	msg, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.Drakkar.Key(), msg.OrderingKey)

	store := memory.NewCatalogStore()
	consumer, err := catalogsync.New(catalogsync.Config{ProcessedTopic: processedTopic}, catalogsync.Deps{
		Blobs:     f.blobs,
		Catalog:   store,
		Publisher: f.pub,
		IDs:       uuid.New(),
		Clock:     f.clock,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, consumer.Handle(ctx, msg))
	assert.Equal(t, 4, store.Len())

	entry, err := store.FindByKey(ctx, catalog.Drakkar, "DK-2")
	require.NoError(t, err)
	assert.Equal(t, "Album 2", entry.Name)
	assert.Equal(t, catalog.MediaCD, entry.Media)
	assert.Equal(t, res.SessionID, entry.ParsingSessionID)

	var processed []pubmemory.PublishedMessage
	for _, m := range f.pub.Messages() {
		if m.Topic == processedTopic {
			processed = append(processed, m)
		}
	}
	require.Len(t, processed, 1)
}

func TestRunEscalatesWhenBlocked(t *testing.T) {
	t.Parallel()

	plain := &site{blockAll: true}
	heavy := &site{pages: shopPages()}
	f := newFixture(t, Config{},
		antibot.Strategy{Name: "plain", Fetcher: plain},
		antibot.Strategy{Name: "headless", Fetcher: heavy})

	res, err := f.runner.Run(context.Background(), shopEntry())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Records)
	assert.Equal(t, 1, plain.Calls(), "crawl stays escalated after the first block")

	sess, err := f.sessions.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, catalog.SessionProcessed, sess.Status)
}

// TestRunFailsWhenBlockedBeyondCeiling ensures exhausted retries fail the session without an event.
func TestRunFailsWhenBlockedBeyondCeiling(t *testing.T) {
	t.Parallel()

	plain := &site{blockAll: true}
	f := newFixture(t, Config{}, antibot.Strategy{Name: "plain", Fetcher: plain})

	res, err := f.runner.Run(context.Background(), shopEntry())
	require.Error(t, err)
	require.ErrorIs(t, err, catalog.ErrBlocked)
	assert.Equal(t, 3, plain.Calls())

	sess, getErr := f.sessions.Get(context.Background(), res.SessionID)
	require.NoError(t, getErr)
	assert.Equal(t, catalog.SessionFailed, sess.Status)
	assert.Equal(t, catalog.StageCrawl, sess.FailedStage)
	assert.Equal(t, "FetchError.Blocked", sess.ErrorKind)
	assert.Empty(t, f.pub.Messages())
	assert.Equal(t, 1, f.released)
}

func TestRunFailsOnPaginationCycle(t *testing.T) {
	t.Parallel()

	loop := &site{pages: map[string]string{
		"https://shop.test/cd?page=1": "next https://shop.test/cd?page=2",
		"https://shop.test/cd?page=2": "next https://shop.test/cd?page=1",
	}}
	f := newFixture(t, Config{}, antibot.Strategy{Name: "plain", Fetcher: loop})

	res, err := f.runner.Run(context.Background(), shopEntry())
	require.ErrorIs(t, err, catalog.ErrCycleDetected)

	sess, getErr := f.sessions.Get(context.Background(), res.SessionID)
	require.NoError(t, getErr)
	assert.Equal(t, catalog.StagePaginate, sess.FailedStage)
	assert.Empty(t, f.pub.Messages())
}

func TestRunFailsAtSessionDeadline(t *testing.T) {
	t.Parallel()

	slow := &site{wait: true}
	f := newFixture(t, Config{SessionDeadline: 20 * time.Millisecond}, antibot.Strategy{Name: "plain", Fetcher: slow})

	res, err := f.runner.Run(context.Background(), shopEntry())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	sess, getErr := f.sessions.Get(context.Background(), res.SessionID)
	require.NoError(t, getErr)
	assert.Equal(t, catalog.SessionFailed, sess.Status)
	assert.Equal(t, catalog.StageDeadline, sess.FailedStage)
	assert.Empty(t, f.pub.Messages())
}

func TestRunEmptyListingPublishesEmptyEvent(t *testing.T) {
	t.Parallel()

	empty := &site{pages: map[string]string{"https://shop.test/cd?page=1": "nothing here"}}
	f := newFixture(t, Config{}, antibot.Strategy{Name: "plain", Fetcher: empty})

	res, err := f.runner.Run(context.Background(), shopEntry())
	require.NoError(t, err)
	assert.Zero(t, res.Records)
	assert.Empty(t, res.Event.StorageFilePaths)
	require.Len(t, f.pub.Messages(), 1)
}

func TestRunUnknownDistributor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, antibot.Strategy{Name: "plain", Fetcher: &site{}})
	_, err := f.runner.Run(context.Background(), distributor.Entry{Code: catalog.NapalmRecords})
	require.Error(t, err)
}

func TestRunStrategySourceError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.runner.deps.Strategies = func(context.Context, catalog.DistributorCode) ([]antibot.Strategy, func(context.Context), error) {
		return nil, nil, errors.New("no browser")
	}
	res, err := f.runner.Run(context.Background(), shopEntry())
	require.ErrorContains(t, err, "no browser")

	sess, getErr := f.sessions.Get(context.Background(), res.SessionID)
	require.NoError(t, getErr)
	assert.Equal(t, catalog.SessionFailed, sess.Status)
}

func TestNewRunnerRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(Config{}, Deps{}, nil)
	require.Error(t, err)
}

// TestRunRetriesBeginProcessing ensures a transient store error while starting
// the session does not strand it in Pending.
func TestRunRetriesBeginProcessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shop := &site{pages: shopPages()}
	f := newFixture(t, Config{}, antibot.Strategy{Name: "plain", Fetcher: shop})
	flaky := &flakySessions{Manager: f.sessions, failures: 1}
	deps := f.deps
	deps.Sessions = flaky
	runner, err := NewRunner(f.cfg, deps, nil)
	require.NoError(t, err)

	res, err := runner.Run(ctx, shopEntry())
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.begins)
	assert.Equal(t, 4, res.Records)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, catalog.SessionProcessed, sess.Status)
}

func TestRunGivesUpWhenBeginKeepsFailing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shop := &site{pages: shopPages()}
	f := newFixture(t, Config{}, antibot.Strategy{Name: "plain", Fetcher: shop})
	flaky := &flakySessions{Manager: f.sessions, failures: 10}
	deps := f.deps
	deps.Sessions = flaky
	runner, err := NewRunner(f.cfg, deps, nil)
	require.NoError(t, err)

	res, err := runner.Run(ctx, shopEntry())
	require.ErrorIs(t, err, catalog.ErrIOFailure)
	assert.Equal(t, 3, flaky.begins)
	assert.Zero(t, shop.Calls())
	assert.Zero(t, f.released)

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, catalog.SessionPending, sess.Status)
}
