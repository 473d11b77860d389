// Package useragent provides the rotating pool of User-Agent strings.
package useragent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
)

// DefaultAgent is used when no pool file is configured.
const DefaultAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// BlobPrefix marks a pool file kept in blob storage rather than on disk.
const BlobPrefix = "blob://"

// Downloader reads objects from blob storage.
type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Pool picks a random agent per request. It is safe for concurrent use.
type Pool struct {
	agents []string
}

// NewPool builds a pool; blank entries are dropped and an empty pool falls
// back to DefaultAgent.
func NewPool(agents []string) *Pool {
	clean := make([]string, 0, len(agents))
	for _, a := range agents {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		clean = []string{DefaultAgent}
	}
	return &Pool{agents: clean}
}

// Load reads one agent per line from path. Lines starting with # are
// comments. A path with the blob:// prefix is fetched through blobs.
func Load(ctx context.Context, path string, blobs Downloader) (*Pool, error) {
	if strings.TrimSpace(path) == "" {
		return NewPool(nil), nil
	}
	var (
		data []byte
		err  error
	)
	if key, ok := strings.CutPrefix(path, BlobPrefix); ok {
		if blobs == nil {
			return nil, errors.New("load user agents: blob storage not configured")
		}
		data, err = blobs.Download(ctx, key)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load user agents from %s: %w", path, err)
	}

	var agents []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		agents = append(agents, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read user agents: %w", err)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("load user agents from %s: file has no entries", path)
	}
	return NewPool(agents), nil
}

// Next returns a random agent.
func (p *Pool) Next() string {
	return p.agents[rand.IntN(len(p.agents))]
}

// Len returns the pool size.
func (p *Pool) Len() int {
	return len(p.agents)
}
