// Package images copies album artwork from distributor sites into blob storage.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/hash/sha256"
	"github.com/JakeFAU/metal-release-crawler/internal/useragent"
)

// DefaultMaxBytes caps a single image download.
const DefaultMaxBytes = 10 << 20

// Config tunes the Uploader.
type Config struct {
	Prefix   string
	MaxBytes int64
	Timeout  time.Duration
}

// Uploader implements catalog.ImageUploader.
type Uploader struct {
	cfg    Config
	blobs  catalog.BlobStore
	client *http.Client
	agents *useragent.Pool
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New builds an Uploader. A nil client uses one with cfg.Timeout.
func New(cfg Config, blobs catalog.BlobStore, client *http.Client, agents *useragent.Pool, logger *zap.Logger) (*Uploader, error) {
	if blobs == nil {
		return nil, errors.New("image blob store is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "images"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if agents == nil {
		agents = useragent.NewPool(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		cfg:    cfg,
		blobs:  blobs,
		client: client,
		agents: agents,
		hasher: sha256.New(),
		logger: logger.Named("images"),
	}, nil
}

// ObjectPath names the stored copy of imageURL. The extension is appended
// once the content type is known.
func (u *Uploader) ObjectPath(sku, imageURL string) string {
	return fmt.Sprintf("%s/%s/%s", u.cfg.Prefix, sanitize(sku), u.hasher.Short(imageURL, 16))
}

// Upload downloads imageURL and stores it, returning the blob path.
func (u *Uploader) Upload(ctx context.Context, sku string, imageURL string) (string, error) {
	data, err := u.download(ctx, imageURL)
	if err != nil {
		return "", &catalog.ImageUploadError{SKU: sku, URL: imageURL, Err: err}
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", &catalog.ImageUploadError{SKU: sku, URL: imageURL, Err: fmt.Errorf("unexpected content type %s", mt.String())}
	}
	path := u.ObjectPath(sku, imageURL) + mt.Extension()
	stored, err := u.blobs.Upload(ctx, path, mt.String(), bytes.NewReader(data))
	if err != nil {
		return "", &catalog.ImageUploadError{SKU: sku, URL: imageURL, Err: err}
	}
	u.logger.Debug("image stored", zap.String("sku", sku), zap.String("url", imageURL), zap.String("path", stored))
	return stored, nil
}

func (u *Uploader) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", u.agents.Next())
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, u.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > u.cfg.MaxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", u.cfg.MaxBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}

func sanitize(sku string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(sku))
}
