// Package memory keeps blobs, sessions and catalog entries in-process for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// BlobStore stores objects in a map keyed by path.
type BlobStore struct {
	mu           sync.RWMutex
	data         map[string][]byte
	contentTypes map[string]string
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:         make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// Upload persists a copy of the content and returns path.
func (s *BlobStore) Upload(_ context.Context, path string, contentType string, body io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Err: fmt.Errorf("path is required")}
	}
	byteData, err := io.ReadAll(body)
	if err != nil {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = byteData
	s.contentTypes[path] = contentType
	return path, nil
}

// Download returns a copy of the stored bytes.
func (s *BlobStore) Download(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, &catalog.StorageError{Kind: catalog.StorageNotFound, Path: path}
	}
	return append([]byte(nil), data...), nil
}

// ContentType returns the content type recorded for path.
func (s *BlobStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentTypes[path]
}

// Paths lists stored object paths with the given prefix in lexical order.
func (s *BlobStore) Paths(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
