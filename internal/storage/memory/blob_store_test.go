package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

func TestBlobStoreUploadCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	path, err := store.Upload(context.Background(), "s1/2_chunk1.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "s1/2_chunk1.json", path)

	payload[0] = 'C'
	got, err := store.Download(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))

	got[0] = 'X'
	again, err := store.Download(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(again), "Download returns a copy")
	assert.Equal(t, "application/json", store.ContentType(path))
}

func TestBlobStoreDownloadMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().Download(context.Background(), "missing.json")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, p := range []string{"b/2.json", "a/1.json", "b/1.json"} {
		_, err := store.Upload(ctx, p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b/1.json", "b/2.json"}, store.Paths("b/"))

	_, err := store.Upload(ctx, " ", "", bytes.NewReader(nil))
	require.ErrorIs(t, err, catalog.ErrIOFailure)
}
