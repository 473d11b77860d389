// Package publisher stores parsed album batches and announces them on the
// message channel. Transport adapters live in the memory and pubsub
// subpackages.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/chunk"
	"github.com/JakeFAU/metal-release-crawler/internal/logging"
	"github.com/JakeFAU/metal-release-crawler/internal/metrics"
	"github.com/JakeFAU/metal-release-crawler/internal/retry"
	"github.com/JakeFAU/metal-release-crawler/internal/session"
)

// Sessions closes a session once its batch is announced or abandoned.
type Sessions interface {
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, stage catalog.Stage, cause error) error
}

// Config names the parsed-event topic and the chunk size.
type Config struct {
	Topic          string
	ChunkSizeBytes int
}

// EventPublisher writes one session's records to blob storage and emits a
// single AlbumParsedPublicationEvent for them.
type EventPublisher struct {
	cfg      Config
	blobs    catalog.BlobStore
	pub      catalog.Publisher
	sessions Sessions
	clock    catalog.Clock
	policy   retry.Policy
	logger   *zap.Logger
}

// New wires an EventPublisher. A nil policy uses retry defaults.
func New(
	cfg Config,
	blobs catalog.BlobStore,
	pub catalog.Publisher,
	sessions Sessions,
	clock catalog.Clock,
	policy retry.Policy,
	logger *zap.Logger,
) (*EventPublisher, error) {
	if cfg.Topic == "" {
		return nil, errors.New("publisher topic is required")
	}
	if blobs == nil || pub == nil || sessions == nil || clock == nil {
		return nil, errors.New("publisher dependencies are required")
	}
	if policy == nil {
		policy = retry.NewExponential(retry.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{
		cfg:      cfg,
		blobs:    blobs,
		pub:      pub,
		sessions: sessions,
		clock:    clock,
		policy:   policy,
		logger:   logger.Named("event_publisher"),
	}, nil
}

// ChunkPath is the blob path of the n-th chunk of a session.
func ChunkPath(sessionID string, code catalog.DistributorCode, n int) string {
	return fmt.Sprintf("%s/%s_chunk%d.json", sessionID, code.Key(), n)
}

// Publish stores records and emits the event, then completes the session.
// Any failure marks the session Failed and no event is emitted. An empty
// record set still produces an event with no storage paths.
func (p *EventPublisher) Publish(
	ctx context.Context,
	sessionID string,
	code catalog.DistributorCode,
	records []catalog.RawAlbumRecord,
) (catalog.AlbumParsedPublicationEvent, error) {
	logger := logging.Session(p.logger, sessionID, code)

	evt, err := p.publish(ctx, sessionID, code, records)
	if err != nil {
		stage := session.StageFor(err, catalog.StagePublish)
		if failErr := p.sessions.Fail(context.WithoutCancel(ctx), sessionID, stage, err); failErr != nil {
			logger.Error("failed to mark session failed", zap.Error(failErr))
		}
		return catalog.AlbumParsedPublicationEvent{}, err
	}

	if err := p.sessions.Complete(ctx, sessionID); err != nil {
		// The event is already out; the session record lags behind it.
		logger.Error("event published but session not completed", zap.Error(err))
		return evt, fmt.Errorf("complete session: %w", err)
	}
	logger.Info("parsed batch published",
		zap.Int("records", len(records)),
		zap.Int("chunks", len(evt.StorageFilePaths)))
	return evt, nil
}

func (p *EventPublisher) publish(
	ctx context.Context,
	sessionID string,
	code catalog.DistributorCode,
	records []catalog.RawAlbumRecord,
) (catalog.AlbumParsedPublicationEvent, error) {
	if err := ctx.Err(); err != nil {
		return catalog.AlbumParsedPublicationEvent{}, err
	}
	chunks, err := chunk.Encode(records, p.cfg.ChunkSizeBytes)
	if err != nil {
		return catalog.AlbumParsedPublicationEvent{}, &catalog.PublishError{Kind: catalog.PublishPermanent, Topic: p.cfg.Topic, Err: err}
	}
	paths, err := chunk.Store(ctx, p.blobs, chunks, func(n int) string { return ChunkPath(sessionID, code, n) })
	if err != nil {
		return catalog.AlbumParsedPublicationEvent{}, fmt.Errorf("store parsed batch: %w", err)
	}

	evt := catalog.AlbumParsedPublicationEvent{
		CreatedDate:      p.clock.Now(),
		ParsingSessionID: sessionID,
		DistributorCode:  code,
		StorageFilePaths: paths,
	}
	if err := Send(ctx, p.pub, p.policy, p.cfg.Topic, code.Key(), evt, p.logger); err != nil {
		return catalog.AlbumParsedPublicationEvent{}, err
	}
	return evt, nil
}

// Send publishes payload with bounded retries. Exhausted retries surface as
// a *catalog.PublishError.
func Send(
	ctx context.Context,
	pub catalog.Publisher,
	policy retry.Policy,
	topic, orderingKey string,
	payload any,
	logger *zap.Logger,
) error {
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		id, err := pub.Publish(ctx, topic, orderingKey, payload)
		if err != nil {
			metrics.ObservePublish(topic, "error")
			logger.Warn("publish attempt failed",
				zap.String("topic", topic),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		metrics.ObservePublish(topic, "ok")
		logger.Debug("message published", zap.String("topic", topic), zap.String("message_id", id))
		return nil
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("publish to %s: %w", topic, errors.Join(err, ctxErr))
	}
	if errors.Is(err, &catalog.PublishError{}) {
		return fmt.Errorf("publish after %d attempts: %w", attempts, err)
	}
	return &catalog.PublishError{
		Kind:  catalog.PublishTransient,
		Topic: topic,
		Err:   fmt.Errorf("after %d attempts: %w", attempts, err),
	}
}
