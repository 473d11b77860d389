// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore keeps objects as files below a base directory. Object paths are
// relative to that directory.
type BlobStore struct {
	baseDir string
}

// New creates the base directory when missing and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Upload writes body to path and returns path.
func (s *BlobStore) Upload(_ context.Context, path string, _ string, body io.Reader) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: err}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}
	// Readers never observe a partial object.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: err}
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: err}
	}
	return path, nil
}

// Download reads the object at path.
func (s *BlobStore) Download(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &catalog.StorageError{Kind: catalog.StorageNotFound, Path: path}
	}
	if err != nil {
		return nil, &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: err}
	}
	return data, nil
}

// resolve maps an object path into baseDir, rejecting traversal.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: errors.New("path is required")}
	}
	full := filepath.Clean(filepath.Join(s.baseDir, path))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", &catalog.StorageError{Kind: catalog.StorageIOFailure, Path: path, Err: errors.New("path traversal detected")}
	}
	return full, nil
}
