// Package catalogsync applies parsed album batches to the catalog.
//
// A Consumer handles one AlbumParsedPublicationEvent at a time: it loads the
// referenced chunks, validates and normalizes each record, upserts it by
// (distributor, sku), copies images into blob storage and finally announces
// the changed entries with an AlbumProcessedPublicationEvent. Effects are
// idempotent so a redelivered event leaves the catalog as it was.
package catalogsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/chunk"
	"github.com/JakeFAU/metal-release-crawler/internal/logging"
	"github.com/JakeFAU/metal-release-crawler/internal/metrics"
	"github.com/JakeFAU/metal-release-crawler/internal/queue"
	"github.com/JakeFAU/metal-release-crawler/internal/retry"
)

// DefaultProcessedPrefix roots processed chunks in blob storage.
const DefaultProcessedPrefix = "processed"

// Record outcomes reported per sku.
const (
	OutcomeNew       = "new"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeInvalid   = "invalid"
	OutcomeImage     = "image_error"
	OutcomeStore     = "store_error"
)

// Config names the processed-event topic and chunking.
type Config struct {
	ProcessedTopic  string
	ChunkSizeBytes  int
	ProcessedPrefix string
}

// Deps are the collaborators of a Consumer. Images may be nil, in which case
// entries carry no stored image paths.
type Deps struct {
	Blobs     catalog.BlobStore
	Catalog   catalog.CatalogStore
	Images    catalog.ImageUploader
	Publisher catalog.Publisher
	IDs       catalog.IDGenerator
	Clock     catalog.Clock
	Policy    retry.Policy
}

// Skipped is a record that did not reach the catalog.
type Skipped struct {
	SKU     string
	Outcome string
	Err     error
}

// Report summarizes one processed batch.
type Report struct {
	SessionID string
	Code      catalog.DistributorCode
	Records   int
	New       int
	Updated   int
	Unchanged int
	Deleted   int
	Skipped   []Skipped
	Event     catalog.AlbumProcessedPublicationEvent
}

// Consumer syncs parsed batches into the catalog.
type Consumer struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates deps and builds a Consumer.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Consumer, error) {
	if cfg.ProcessedTopic == "" {
		return nil, errors.New("processed topic is required")
	}
	if deps.Blobs == nil || deps.Catalog == nil || deps.Publisher == nil || deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("catalog sync dependencies are required")
	}
	if cfg.ProcessedPrefix == "" {
		cfg.ProcessedPrefix = DefaultProcessedPrefix
	}
	if deps.Policy == nil {
		deps.Policy = retry.NewExponential(retry.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{cfg: cfg, deps: deps, logger: logger.Named("catalog_sync")}, nil
}

// ProcessedPath is the blob path of the n-th processed chunk of a session.
func (c *Consumer) ProcessedPath(code catalog.DistributorCode, sessionID string, n int) string {
	return fmt.Sprintf("%s/%s/%s_chunk%d.json", c.cfg.ProcessedPrefix, code.Key(), sessionID, n)
}

// Handle implements queue.Handler. Malformed events are acknowledged and
// logged since redelivery cannot fix them.
func (c *Consumer) Handle(ctx context.Context, msg queue.Message) error {
	var evt catalog.AlbumParsedPublicationEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		c.logger.Error("dropping undecodable event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	report, err := c.Process(ctx, evt)
	if errors.Is(err, catalog.ErrValidation) {
		c.logger.Error("dropping invalid event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info("batch synced",
		zap.String("session_id", report.SessionID),
		zap.String("distributor", report.Code.String()),
		zap.Int("attempt", msg.DeliveryAttempt),
		zap.Int("records", report.Records),
		zap.Int("new", report.New),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("deleted", report.Deleted),
		zap.Int("skipped", len(report.Skipped)))
	return nil
}

// Process applies evt to the catalog and publishes the processed event. A
// returned error means the batch must be delivered again; per-record
// failures are reported in the Report instead.
func (c *Consumer) Process(ctx context.Context, evt catalog.AlbumParsedPublicationEvent) (Report, error) {
	report := Report{SessionID: evt.ParsingSessionID, Code: evt.DistributorCode}
	dist := evt.DistributorCode.String()
	if !evt.DistributorCode.Valid() {
		return report, &catalog.ValidationError{Field: "distributorCode", Reason: fmt.Sprintf("unknown code %d", evt.DistributorCode)}
	}
	if evt.ParsingSessionID == "" {
		return report, &catalog.ValidationError{Field: "parsingSessionId", Reason: "empty"}
	}
	logger := logging.Session(c.logger, evt.ParsingSessionID, evt.DistributorCode)

	report, err := c.process(ctx, evt, report, logger)
	if err != nil {
		metrics.ObserveSyncBatch(dist, "error")
		return report, err
	}
	metrics.ObserveSyncBatch(dist, "ok")
	return report, nil
}

func (c *Consumer) process(
	ctx context.Context,
	evt catalog.AlbumParsedPublicationEvent,
	report Report,
	logger *zap.Logger,
) (Report, error) {
	now := c.deps.Clock.Now()
	b := &batch{
		evt:     evt,
		now:     now,
		seen:    map[string]struct{}{},
		changed: map[string]catalog.AlbumProcessedEntity{},
	}

	for _, path := range evt.StorageFilePaths {
		records, err := chunk.Load[catalog.RawAlbumRecord](ctx, c.deps.Blobs, path)
		if err != nil {
			return report, fmt.Errorf("load parsed chunk: %w", err)
		}
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Records++
			c.applyRecord(ctx, b, rec, &report, logger)
		}
	}

	stored := report.New + report.Updated + report.Unchanged
	if report.Records > 0 && stored == 0 && b.storeFailures > 0 {
		return report, &catalog.StorageError{
			Kind: catalog.StorageIOFailure,
			Path: "catalog",
			Err:  fmt.Errorf("no record of %d could be stored", report.Records),
		}
	}

	// Without a single keyed record the batch says nothing about what the
	// distributor still lists.
	if report.Records > 0 && len(b.seen) > 0 {
		deleted, err := c.markDeleted(ctx, b)
		if err != nil {
			return report, err
		}
		report.Deleted = deleted
	}

	out, err := c.publishChanges(ctx, b, logger)
	if err != nil {
		return report, err
	}
	report.Event = out
	return report, nil
}

// batch carries per-event state.
type batch struct {
	evt           catalog.AlbumParsedPublicationEvent
	now           time.Time
	seen          map[string]struct{}
	changed       map[string]catalog.AlbumProcessedEntity
	order         []string
	storeFailures int
}

func (b *batch) markChanged(entity catalog.AlbumProcessedEntity) {
	if _, ok := b.changed[entity.ID]; !ok {
		b.order = append(b.order, entity.ID)
	}
	b.changed[entity.ID] = entity
}

func (c *Consumer) applyRecord(ctx context.Context, b *batch, rec catalog.RawAlbumRecord, report *Report, logger *zap.Logger) {
	dist := b.evt.DistributorCode.String()
	sku := strings.TrimSpace(rec.SKU)
	if sku != "" {
		b.seen[sku] = struct{}{}
	}
	skip := func(outcome string, err error) {
		report.Skipped = append(report.Skipped, Skipped{SKU: sku, Outcome: outcome, Err: err})
		metrics.ObserveSyncRecord(dist, outcome)
		logger.Warn("record skipped",
			zap.String("sku", sku),
			zap.String("url", rec.PurchaseURL),
			zap.String("outcome", outcome),
			zap.Error(err))
	}

	if err := Validate(rec); err != nil {
		skip(OutcomeInvalid, err)
		return
	}
	rec.SKU = sku

	outcome, entity, err := c.upsert(ctx, b, rec)
	switch {
	case err == nil:
	case errors.As(err, new(*catalog.ImageUploadError)):
		skip(OutcomeImage, err)
		return
	default:
		b.storeFailures++
		skip(OutcomeStore, err)
		return
	}

	metrics.ObserveSyncRecord(dist, outcome)
	switch outcome {
	case OutcomeNew:
		report.New++
		b.markChanged(entity)
	case OutcomeUpdated:
		report.Updated++
		b.markChanged(entity)
	default:
		report.Unchanged++
	}
}
