// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object path.
	Prefix string
}

// BlobStore reads and writes objects in a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// CheckBucket fails when the bucket is missing or not accessible.
func (s *BlobStore) CheckBucket(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("get bucket %q attributes: %w", s.bucket, err)
	}
	return nil
}

// Upload stores body under path and returns path.
func (s *BlobStore) Upload(ctx context.Context, path string, contentType string, body io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: errors.New("path is required")}
	}
	writer := s.client.Bucket(s.bucket).Object(s.object(path)).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, body); err != nil {
		closeErr := writer.Close()
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: errors.Join(fmt.Errorf("copy object: %w", err), closeErr)}
	}
	if err := writer.Close(); err != nil {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: fmt.Errorf("close writer: %w", err)}
	}
	return path, nil
}

// Download returns the object bytes.
func (s *BlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object(path)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, &catalog.StorageError{Kind: catalog.StorageNotFound, Path: path}
	}
	if err != nil {
		return nil, &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: err}
	}
	defer reader.Close() //nolint:errcheck
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: fmt.Errorf("read object: %w", err)}
	}
	return data, nil
}

// URI renders the gs:// address of path.
func (s *BlobStore) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object(path))
}

func (s *BlobStore) object(path string) string {
	path = strings.TrimLeft(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}
