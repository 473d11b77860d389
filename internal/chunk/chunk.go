// Package chunk splits record batches into size-bounded JSON blobs.
package chunk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// DefaultLimit is the chunk size used when none is configured.
const DefaultLimit = 1 << 20

// ContentType of every stored chunk.
const ContentType = "application/json"

// Encode marshals items into JSON arrays of at most limit bytes, split at
// item boundaries. An item larger than limit gets a chunk of its own. No
// items yield no chunks.
func Encode[T any](items []T, limit int) ([][]byte, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var (
		chunks [][]byte
		buf    bytes.Buffer
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		buf.WriteByte(']')
		chunks = append(chunks, bytes.Clone(buf.Bytes()))
		buf.Reset()
	}
	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("marshal item %d: %w", i, err)
		}
		// +2 covers the separator and the closing bracket.
		if buf.Len() > 0 && buf.Len()+len(data)+2 > limit {
			flush()
		}
		if buf.Len() == 0 {
			buf.WriteByte('[')
		} else {
			buf.WriteByte(',')
		}
		buf.Write(data)
	}
	flush()
	return chunks, nil
}

// Store uploads chunks in order under pathFor(n), n starting at 1, and
// returns the stored paths.
func Store(ctx context.Context, blobs catalog.BlobStore, chunks [][]byte, pathFor func(n int) string) ([]string, error) {
	paths := make([]string, 0, len(chunks))
	for i, data := range chunks {
		stored, err := blobs.Upload(ctx, pathFor(i+1), ContentType, bytes.NewReader(data))
		if err != nil {
			return paths, fmt.Errorf("upload chunk %d: %w", i+1, err)
		}
		paths = append(paths, stored)
	}
	return paths, nil
}

// Load downloads one chunk and decodes its items.
func Load[T any](ctx context.Context, blobs catalog.BlobStore, path string) ([]T, error) {
	data, err := blobs.Download(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("download chunk %s: %w", path, err)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: fmt.Errorf("decode chunk: %w", err)}
	}
	return items, nil
}
