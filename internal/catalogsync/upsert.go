package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/chunk"
	"github.com/JakeFAU/metal-release-crawler/internal/normalize"
	"github.com/JakeFAU/metal-release-crawler/internal/publisher"
)

// upsert inserts or updates the entry for rec and reports what happened.
// Replaying the same session reports the outcome of its first application.
func (c *Consumer) upsert(ctx context.Context, b *batch, rec catalog.RawAlbumRecord) (string, catalog.AlbumProcessedEntity, error) {
	code := b.evt.DistributorCode
	existing, err := c.deps.Catalog.FindByKey(ctx, code, rec.SKU)
	found := err == nil
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return "", catalog.AlbumProcessedEntity{}, fmt.Errorf("find sku %s: %w", rec.SKU, err)
	}

	var prior *catalog.AlbumProcessedEntity
	if found {
		prior = &existing
	}
	paths, err := c.storeImages(ctx, rec.SKU, rec.ImageURLs, prior)
	if err != nil {
		return "", catalog.AlbumProcessedEntity{}, err
	}
	candidate := entityFrom(rec, paths)

	if !found {
		id, err := c.deps.IDs.NewID()
		if err != nil {
			return "", catalog.AlbumProcessedEntity{}, fmt.Errorf("allocate id: %w", err)
		}
		candidate.ID = id
		candidate.DistributorCode = code
		candidate.ParsingSessionID = b.evt.ParsingSessionID
		candidate.ProcessedStatus = catalog.ProcessedNew
		candidate.CreatedDate = b.now
		candidate.LastUpdateDate = b.now
		candidate.LastCheckedDate = b.now
		if err := c.deps.Catalog.Add(ctx, candidate); err != nil {
			return "", catalog.AlbumProcessedEntity{}, fmt.Errorf("add sku %s: %w", rec.SKU, err)
		}
		return OutcomeNew, candidate, nil
	}

	if sameContent(existing, candidate) && existing.ProcessedStatus != catalog.ProcessedDeleted {
		existing.LastCheckedDate = b.now
		if err := c.deps.Catalog.Update(ctx, existing); err != nil {
			return "", catalog.AlbumProcessedEntity{}, fmt.Errorf("touch sku %s: %w", rec.SKU, err)
		}
		if _, dup := b.changed[existing.ID]; dup {
			return OutcomeUnchanged, existing, nil
		}
		if existing.ParsingSessionID == b.evt.ParsingSessionID {
			switch existing.ProcessedStatus {
			case catalog.ProcessedNew:
				return OutcomeNew, existing, nil
			case catalog.ProcessedUpdated:
				return OutcomeUpdated, existing, nil
			}
		}
		return OutcomeUnchanged, existing, nil
	}

	merged := existing
	merged.BandName = candidate.BandName
	merged.Name = candidate.Name
	merged.RawName = candidate.RawName
	merged.Price = candidate.Price
	merged.Media = candidate.Media
	merged.ImagePaths = candidate.ImagePaths
	merged.ImageSourceURLs = candidate.ImageSourceURLs
	merged.PurchaseURL = candidate.PurchaseURL
	merged.ReleaseDate = candidate.ReleaseDate
	merged.Genre = candidate.Genre
	merged.Label = candidate.Label
	merged.Press = candidate.Press
	merged.Description = candidate.Description
	merged.Status = candidate.Status
	merged.ParsingSessionID = b.evt.ParsingSessionID
	merged.ProcessedStatus = catalog.ProcessedUpdated
	merged.LastUpdateDate = b.now
	merged.LastCheckedDate = b.now
	if err := c.deps.Catalog.Update(ctx, merged); err != nil {
		return "", catalog.AlbumProcessedEntity{}, fmt.Errorf("update sku %s: %w", rec.SKU, err)
	}
	return OutcomeUpdated, merged, nil
}

// entityFrom maps the mutable fields of rec onto an entity.
func entityFrom(rec catalog.RawAlbumRecord, imagePaths []string) catalog.AlbumProcessedEntity {
	raw := normalize.Text(rec.Name)
	name := normalize.AlbumName(raw)
	if name == "" {
		name = raw
	}
	return catalog.AlbumProcessedEntity{
		SKU:             rec.SKU,
		BandName:        normalize.Text(rec.BandName),
		Name:            name,
		RawName:         rec.Name,
		Price:           rec.Price,
		Media:           rec.Media,
		ImagePaths:      imagePaths,
		ImageSourceURLs: slices.Clone(rec.ImageURLs),
		PurchaseURL:     rec.PurchaseURL,
		ReleaseDate:     rec.ReleaseDate,
		Genre:           rec.Genre,
		Label:           rec.Label,
		Press:           rec.Press,
		Description:     rec.Description,
		Status:          rec.Status,
	}
}

func sameContent(a, b catalog.AlbumProcessedEntity) bool {
	return a.BandName == b.BandName &&
		a.Name == b.Name &&
		a.RawName == b.RawName &&
		a.Price == b.Price &&
		a.Media == b.Media &&
		slices.Equal(a.ImagePaths, b.ImagePaths) &&
		slices.Equal(a.ImageSourceURLs, b.ImageSourceURLs) &&
		a.PurchaseURL == b.PurchaseURL &&
		a.ReleaseDate.Equal(b.ReleaseDate) &&
		a.Genre == b.Genre &&
		a.Label == b.Label &&
		a.Press == b.Press &&
		a.Description == b.Description &&
		a.Status == b.Status
}

// storeImages uploads image URLs the entry does not hold yet and reuses the
// stored paths of the others.
func (c *Consumer) storeImages(ctx context.Context, sku string, urls []string, prior *catalog.AlbumProcessedEntity) ([]string, error) {
	if c.deps.Images == nil || len(urls) == 0 {
		return nil, nil
	}
	known := map[string]string{}
	if prior != nil && len(prior.ImagePaths) == len(prior.ImageSourceURLs) {
		for i, u := range prior.ImageSourceURLs {
			known[u] = prior.ImagePaths[i]
		}
	}
	paths := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if stored, ok := known[u]; ok {
			paths = append(paths, stored)
			continue
		}
		stored, err := c.deps.Images.Upload(ctx, sku, u)
		if err != nil {
			var uploadErr *catalog.ImageUploadError
			if !errors.As(err, &uploadErr) {
				err = &catalog.ImageUploadError{SKU: sku, URL: u, Err: err}
			}
			return nil, err
		}
		paths = append(paths, stored)
	}
	return paths, nil
}

// markDeleted flags entries of the distributor that the batch no longer lists.
func (c *Consumer) markDeleted(ctx context.Context, b *batch) (int, error) {
	entities, err := c.deps.Catalog.ListByDistributor(ctx, b.evt.DistributorCode)
	if err != nil {
		return 0, fmt.Errorf("list catalog: %w", err)
	}
	deleted := 0
	for _, entity := range entities {
		if _, ok := b.seen[entity.SKU]; ok {
			continue
		}
		if entity.ProcessedStatus == catalog.ProcessedDeleted {
			if entity.ParsingSessionID == b.evt.ParsingSessionID {
				b.markChanged(entity)
				deleted++
			}
			continue
		}
		entity.ProcessedStatus = catalog.ProcessedDeleted
		entity.ParsingSessionID = b.evt.ParsingSessionID
		entity.LastUpdateDate = b.now
		entity.LastCheckedDate = b.now
		if err := c.deps.Catalog.Update(ctx, entity); err != nil {
			return deleted, fmt.Errorf("mark sku %s deleted: %w", entity.SKU, err)
		}
		b.markChanged(entity)
		deleted++
	}
	return deleted, nil
}

// publishChanges stores the changed entries and emits the processed event.
func (c *Consumer) publishChanges(ctx context.Context, b *batch, logger *zap.Logger) (catalog.AlbumProcessedPublicationEvent, error) {
	entities := make([]catalog.AlbumProcessedEntity, 0, len(b.order))
	for _, id := range b.order {
		entities = append(entities, b.changed[id])
	}
	chunks, err := chunk.Encode(entities, c.cfg.ChunkSizeBytes)
	if err != nil {
		return catalog.AlbumProcessedPublicationEvent{}, fmt.Errorf("encode processed batch: %w", err)
	}
	code := b.evt.DistributorCode
	paths, err := chunk.Store(ctx, c.deps.Blobs, chunks, func(n int) string {
		return c.ProcessedPath(code, b.evt.ParsingSessionID, n)
	})
	if err != nil {
		return catalog.AlbumProcessedPublicationEvent{}, fmt.Errorf("store processed batch: %w", err)
	}

	out := catalog.AlbumProcessedPublicationEvent{
		CreatedDate:      b.now,
		DistributorCode:  code,
		StorageFilePaths: paths,
	}
	if err := publisher.Send(ctx, c.deps.Publisher, c.deps.Policy, c.cfg.ProcessedTopic, code.Key(), out, logger); err != nil {
		return catalog.AlbumProcessedPublicationEvent{}, err
	}
	return out, nil
}
