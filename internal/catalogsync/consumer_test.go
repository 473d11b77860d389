package catalogsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/chunk"
	"github.com/JakeFAU/metal-release-crawler/internal/id/uuid"
	pubmemory "github.com/JakeFAU/metal-release-crawler/internal/publisher/memory"
	"github.com/JakeFAU/metal-release-crawler/internal/queue"
	"github.com/JakeFAU/metal-release-crawler/internal/retry"
	"github.com/JakeFAU/metal-release-crawler/internal/storage/memory"
)

const processedTopic = "album-processed"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeImages stores every URL under images/{sku}/ and fails on demand.
type fakeImages struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (f *fakeImages) Upload(_ context.Context, sku string, imageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, imageURL)
	if f.fail[imageURL] {
		return "", &catalog.ImageUploadError{SKU: sku, URL: imageURL, Err: errors.New("status 404")}
	}
	return fmt.Sprintf("images/%s/%d.jpg", sku, len(f.calls)), nil
}

func (f *fakeImages) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	blobs   *memory.BlobStore
	store   *memory.CatalogStore
	images  *fakeImages
	pub     *pubmemory.Publisher
	clock   *fakeClock
	sync    *Consumer
	ingress time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		blobs:   memory.NewBlobStore(),
		store:   memory.NewCatalogStore(),
		images:  &fakeImages{fail: map[string]bool{}},
		pub:     pubmemory.New(),
		ingress: time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC),
	}
	f.clock = &fakeClock{now: f.ingress}
	c, err := New(Config{ProcessedTopic: processedTopic}, Deps{
		Blobs:     f.blobs,
		Catalog:   f.store,
		Images:    f.images,
		Publisher: f.pub,
		IDs:       uuid.New(),
		Clock:     f.clock,
		Policy:    retry.NewExponential(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	}, nil)
	require.NoError(t, err)
	f.sync = c
	return f
}

func record(sku, name string, price float64) catalog.RawAlbumRecord {
	return catalog.RawAlbumRecord{
		DistributorCode:  catalog.OsmoseProductions,
		ParsingSessionID: "parse-1",
		BandName:         "Darkthrone",
		Name:             name,
		SKU:              sku,
		Price:            price,
		Media:            catalog.MediaCD,
		ImageURLs:        []string{"https://shop.example/img/" + sku + ".jpg"},
		CreatedDate:      time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

// stage writes records as one parsed chunk and returns the matching event.
func (f *fixture) stage(t *testing.T, sessionID string, records ...catalog.RawAlbumRecord) catalog.AlbumParsedPublicationEvent {
	t.Helper()
	chunks, err := chunk.Encode(records, 0)
	require.NoError(t, err)
	paths, err := chunk.Store(context.Background(), f.blobs, chunks, func(n int) string {
		return fmt.Sprintf("%s/1_chunk%d.json", sessionID, n)
	})
	require.NoError(t, err)
	return catalog.AlbumParsedPublicationEvent{
		CreatedDate:      f.ingress,
		ParsingSessionID: sessionID,
		DistributorCode:  catalog.OsmoseProductions,
		StorageFilePaths: paths,
	}
}

// TestProcessUpsertsValidRecords ensures valid records land once and invalid ones are reported.
func TestProcessUpsertsValidRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	evt := f.stage(t, "parse-1",
		record("A1", "Transilvanian Hunger - Digipak CD", 15),
		record("A2", "Panzerfaust", 14),
		record("A3", "Goatlord EP", 12),
		record("A4", "Soulside Journey", 13),
		record("A5", "Free Sample", 0),
	)

	report, err := f.sync.Process(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Records)
	assert.Equal(t, 4, report.New)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "A5", report.Skipped[0].SKU)
	assert.Equal(t, OutcomeInvalid, report.Skipped[0].Outcome)
	require.ErrorIs(t, report.Skipped[0].Err, &catalog.ValidationError{Field: "price"})
	assert.Equal(t, 4, f.store.Len())

	entity, err := f.store.FindByKey(context.Background(), catalog.OsmoseProductions, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Transilvanian Hunger", entity.Name)
	assert.Equal(t, "Transilvanian Hunger - Digipak CD", entity.RawName)
	assert.Equal(t, catalog.ProcessedNew, entity.ProcessedStatus)
	assert.Equal(t, f.ingress, entity.CreatedDate, "created date is the ingestion time")
	assert.Equal(t, []string{"images/A1/1.jpg"}, entity.ImagePaths)
	assert.Equal(t, []string{"https://shop.example/img/A1.jpg"}, entity.ImageSourceURLs)

	goatlord, err := f.store.FindByKey(context.Background(), catalog.OsmoseProductions, "A3")
	require.NoError(t, err)
	assert.Equal(t, "Goatlord", goatlord.Name)

	require.Len(t, f.pub.Messages(), 1)
	msg := f.pub.Messages()[0]
	assert.Equal(t, processedTopic, msg.Topic)
	assert.Equal(t, catalog.OsmoseProductions.Key(), msg.OrderingKey)
	var out catalog.AlbumProcessedPublicationEvent
	require.NoError(t, f.pub.Decode(0, &out))
	assert.Equal(t, catalog.OsmoseProductions, out.DistributorCode)
	require.Equal(t, []string{"processed/1/parse-1_chunk1.json"}, out.StorageFilePaths)

	changed, err := chunk.Load[catalog.AlbumProcessedEntity](context.Background(), f.blobs, out.StorageFilePaths[0])
	require.NoError(t, err)
	assert.Len(t, changed, 4)
}

// TestProcessRedeliveryIsIdempotent ensures replaying an event changes nothing.
func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	evt := f.stage(t, "parse-1", record("A1", "Panzerfaust", 14), record("A2", "Ravishing Grimness", 14))

	first, err := f.sync.Process(context.Background(), evt)
	require.NoError(t, err)
	before, err := f.store.ListByDistributor(context.Background(), catalog.OsmoseProductions)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.sync.Process(context.Background(), evt)
	require.NoError(t, err)
	after, err := f.store.ListByDistributor(context.Background(), catalog.OsmoseProductions)
	require.NoError(t, err)

	require.Len(t, after, 2)
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].CreatedDate, after[i].CreatedDate)
		assert.Equal(t, before[i].LastUpdateDate, after[i].LastUpdateDate)
		assert.Equal(t, before[i].ProcessedStatus, after[i].ProcessedStatus)
	}
	assert.Equal(t, first.Event.StorageFilePaths, second.Event.StorageFilePaths)
	assert.Equal(t, 2, second.New, "a replay reports what the session changed")
	assert.Equal(t, 2, f.images.Calls(), "stored images are reused")
}

func TestProcessUpdatesOnlyChangedEntries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.sync.Process(context.Background(), f.stage(t, "parse-1", record("A1", "Panzerfaust", 14), record("A2", "Under a Funeral Moon", 14)))
	require.NoError(t, err)
	created, err := f.store.FindByKey(context.Background(), catalog.OsmoseProductions, "A1")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	report, err := f.sync.Process(context.Background(), f.stage(t, "parse-2", record("A1", "Panzerfaust", 16), record("A2", "Under a Funeral Moon", 14)))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.New)

	updated, err := f.store.FindByKey(context.Background(), catalog.OsmoseProductions, "A1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.InDelta(t, 16.0, updated.Price, 0.001)
	assert.Equal(t, catalog.ProcessedUpdated, updated.ProcessedStatus)
	assert.Equal(t, created.CreatedDate, updated.CreatedDate)
	assert.Equal(t, f.clock.Now(), updated.LastUpdateDate)
	assert.Equal(t, created.ImagePaths, updated.ImagePaths)

	untouched, err := f.store.FindByKey(context.Background(), catalog.OsmoseProductions, "A2")
	require.NoError(t, err)
	assert.Equal(t, catalog.ProcessedNew, untouched.ProcessedStatus)
	assert.Equal(t, f.clock.Now(), untouched.LastCheckedDate)
	assert.NotEqual(t, f.clock.Now(), untouched.LastUpdateDate)

	var out catalog.AlbumProcessedPublicationEvent
	require.NoError(t, f.pub.Decode(1, &out))
	changed, err := chunk.Load[catalog.AlbumProcessedEntity](context.Background(), f.blobs, out.StorageFilePaths[0])
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "A1", changed[0].SKU)
	assert.Equal(t, 2, f.images.Calls())
}

func TestProcessMarksMissingEntriesDeleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.sync.Process(context.Background(), f.stage(t, "parse-1", record("A1", "Panzerfaust", 14), record("A2", "Hate Them", 14)))
	require.NoError(t, err)

	report, err := f.sync.Process(context.Background(), f.stage(t, "parse-2", record("A1", "Panzerfaust", 14)))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	gone, err := f.store.FindByKey(context.Background(), catalog.OsmoseProductions, "A2")
	require.NoError(t, err)
	assert.Equal(t, catalog.ProcessedDeleted, gone.ProcessedStatus)

	// An empty batch never deletes anything.
	report, err = f.sync.Process(context.Background(), f.stage(t, "parse-3"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	kept, err := f.store.FindByKey(context.Background(), catalog.OsmoseProductions, "A1")
	require.NoError(t, err)
	assert.NotEqual(t, catalog.ProcessedDeleted, kept.ProcessedStatus)
	assert.Empty(t, report.Event.StorageFilePaths)
}

// TestProcessKeylessBatchDeletesNothing covers a batch whose records all lack a sku.
func TestProcessKeylessBatchDeletesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.sync.Process(context.Background(), f.stage(t, "parse-1", record("A1", "Panzerfaust", 14), record("A2", "Hate Them", 14)))
	require.NoError(t, err)

	report, err := f.sync.Process(context.Background(), f.stage(t, "parse-2", record("", "Untitled", 9), record("  ", "Nameless", 9)))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records)
	assert.Len(t, report.Skipped, 2)
	assert.Zero(t, report.Deleted)

	for _, sku := range []string{"A1", "A2"} {
		kept, err := f.store.FindByKey(context.Background(), catalog.OsmoseProductions, sku)
		require.NoError(t, err)
		assert.NotEqual(t, catalog.ProcessedDeleted, kept.ProcessedStatus, sku)
	}
}

func TestProcessSkipsRecordOnImageFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.images.fail["https://shop.example/img/A2.jpg"] = true

	report, err := f.sync.Process(context.Background(), f.stage(t, "parse-1", record("A1", "Panzerfaust", 14), record("A2", "Hate Them", 14)))
	require.NoError(t, err)
	assert.Equal(t, 1, report.New)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, OutcomeImage, report.Skipped[0].Outcome)

	var uploadErr *catalog.ImageUploadError
	require.ErrorAs(t, report.Skipped[0].Err, &uploadErr)
	assert.Equal(t, "A2", uploadErr.SKU)
	_, err = f.store.FindByKey(context.Background(), catalog.OsmoseProductions, "A2")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestProcessMissingChunkIsRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	evt := catalog.AlbumParsedPublicationEvent{
		ParsingSessionID: "parse-1",
		DistributorCode:  catalog.OsmoseProductions,
		StorageFilePaths: []string{"parse-1/1_chunk1.json"},
	}
	_, err := f.sync.Process(context.Background(), evt)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Empty(t, f.pub.Messages())
}

// TestHandleNacksWhenPublishFails ensures the batch stays unacknowledged until announced.
func TestHandleNacksWhenPublishFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.pub.FailNext(&catalog.PublishError{Kind: catalog.PublishTransient, Topic: processedTopic, Err: errors.New("unavailable")}, -1)
	evt := f.stage(t, "parse-1", record("A1", "Panzerfaust", 14))

	data, err := json.Marshal(evt)
	require.NoError(t, err)
	err = f.sync.Handle(context.Background(), queue.Message{ID: "m1", Data: data, DeliveryAttempt: 1})
	require.ErrorIs(t, err, catalog.ErrPublishTransient)

	f.pub.FailNext(nil, 0)
	require.NoError(t, f.sync.Handle(context.Background(), queue.Message{ID: "m1", Data: data, DeliveryAttempt: 2}))
	assert.Len(t, f.pub.Messages(), 1)
	assert.Equal(t, 1, f.store.Len())
}

func TestHandleAcksMalformedEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.sync.Handle(context.Background(), queue.Message{ID: "bad", Data: []byte("{not json")}))
	require.NoError(t, f.sync.Handle(context.Background(), queue.Message{ID: "unknown", Data: []byte(`{"distributorCode":42,"parsingSessionId":"x"}`)}))
	assert.Empty(t, f.pub.Messages())
}

func TestProcessCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	evt := f.stage(t, "parse-1", record("A1", "Panzerfaust", 14))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sync.Process(ctx, evt)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.store.Len())
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)
	_, err = New(Config{ProcessedTopic: "t"}, Deps{}, nil)
	require.Error(t, err)
}
