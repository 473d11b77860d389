// Package minio provides a BlobStore on an S3-compatible MinIO bucket.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// Config describes the MinIO endpoint and bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// BlobStore reads and writes objects in one bucket.
type BlobStore struct {
	client *minio.Client
	bucket string
	region string
}

// New connects a client for cfg.
func New(cfg Config) (*BlobStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket unless it exists.
func (s *BlobStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload stores body under path and returns path.
func (s *BlobStore) Upload(ctx context.Context, path string, contentType string, body io.Reader) (string, error) {
	key := strings.TrimLeft(path, "/")
	if key == "" {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: errors.New("path is required")}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", translateError(path, err)
	}
	return path, nil
}

// Download returns the object bytes.
func (s *BlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, strings.TrimLeft(path, "/"), minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(path, err)
	}
	defer func() {
		_ = obj.Close()
	}()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateError(path, err)
	}
	return data, nil
}

func translateError(path string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return &catalog.StorageError{Kind: catalog.StorageNotFound, Path: path}
	}
	return &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: err}
}
