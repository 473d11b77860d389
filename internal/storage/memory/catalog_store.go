package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

type catalogKey struct {
	code catalog.DistributorCode
	sku  string
}

// CatalogStore keeps album entries indexed by id and by (distributor, sku).
type CatalogStore struct {
	mu    sync.RWMutex
	byID  map[string]catalog.AlbumProcessedEntity
	byKey map[catalogKey]string
}

// NewCatalogStore constructs a CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		byID:  make(map[string]catalog.AlbumProcessedEntity),
		byKey: make(map[catalogKey]string),
	}
}

// Get returns an entry by id.
func (s *CatalogStore) Get(_ context.Context, id string) (catalog.AlbumProcessedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.byID[id]
	if !ok {
		return catalog.AlbumProcessedEntity{}, &catalog.StorageError{Kind: catalog.StorageNotFound, Path: "album/" + id}
	}
	return cloneEntity(entity), nil
}

// FindByKey returns the entry for (code, sku).
func (s *CatalogStore) FindByKey(_ context.Context, code catalog.DistributorCode, sku string) (catalog.AlbumProcessedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[catalogKey{code: code, sku: sku}]
	if !ok {
		return catalog.AlbumProcessedEntity{}, &catalog.StorageError{
			Kind: catalog.StorageNotFound,
			Path: fmt.Sprintf("album/%d/%s", code, sku),
		}
	}
	return cloneEntity(s.byID[id]), nil
}

// Add inserts a new entry. The (distributor, sku) key must be unused.
func (s *CatalogStore) Add(_ context.Context, entity catalog.AlbumProcessedEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := catalogKey{code: entity.DistributorCode, sku: entity.SKU}
	if _, exists := s.byKey[key]; exists {
		return &catalog.StorageError{
			Kind: catalog.StorageIOFailure,
			Path: fmt.Sprintf("album/%d/%s", entity.DistributorCode, entity.SKU),
			Err:  fmt.Errorf("duplicate catalog key"),
		}
	}
	if _, exists := s.byID[entity.ID]; exists {
		return &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: "album/" + entity.ID, Err: fmt.Errorf("duplicate id")}
	}
	s.byID[entity.ID] = cloneEntity(entity)
	s.byKey[key] = entity.ID
	return nil
}

// Update replaces an existing entry by id.
func (s *CatalogStore) Update(_ context.Context, entity catalog.AlbumProcessedEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[entity.ID]; !ok {
		return &catalog.StorageError{Kind: catalog.StorageNotFound, Path: "album/" + entity.ID}
	}
	s.byID[entity.ID] = cloneEntity(entity)
	s.byKey[catalogKey{code: entity.DistributorCode, sku: entity.SKU}] = entity.ID
	return nil
}

// Delete removes an entry by id.
func (s *CatalogStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.byID[id]
	if !ok {
		return &catalog.StorageError{Kind: catalog.StorageNotFound, Path: "album/" + id}
	}
	delete(s.byID, id)
	delete(s.byKey, catalogKey{code: entity.DistributorCode, sku: entity.SKU})
	return nil
}

// ListByDistributor returns all entries of code ordered by sku.
func (s *CatalogStore) ListByDistributor(_ context.Context, code catalog.DistributorCode) ([]catalog.AlbumProcessedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.AlbumProcessedEntity, 0)
	for _, entity := range s.byID {
		if entity.DistributorCode == code {
			out = append(out, cloneEntity(entity))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

// Len returns the number of stored entries.
func (s *CatalogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func cloneEntity(in catalog.AlbumProcessedEntity) catalog.AlbumProcessedEntity {
	in.ImagePaths = slices.Clone(in.ImagePaths)
	in.ImageSourceURLs = slices.Clone(in.ImageSourceURLs)
	if in.LastPublishedDate != nil {
		ts := *in.LastPublishedDate
		in.LastPublishedDate = &ts
	}
	return in
}
