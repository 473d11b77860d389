package catalog

import (
	"context"
	"io"
	"time"
)

// BlobStore reads and writes path-addressed objects.
type BlobStore interface {
	// Upload stores body under path and returns the stored object path.
	Upload(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
	// Download returns the object bytes or a StorageError.
	Download(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes events to a message channel topic. Messages sharing an
// ordering key are delivered in order to a single consumer.
type Publisher interface {
	Publish(ctx context.Context, topic string, orderingKey string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageLoader retrieves the raw HTML of a page.
type PageLoader interface {
	Load(ctx context.Context, url string) ([]byte, error)
}

// SessionStore persists ParsingSession records keyed by id.
type SessionStore interface {
	PutSession(ctx context.Context, session ParsingSession) error
	GetSession(ctx context.Context, id string) (ParsingSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]ParsingSession, error)
}

// CatalogStore persists catalog entries.
type CatalogStore interface {
	Get(ctx context.Context, id string) (AlbumProcessedEntity, error)
	FindByKey(ctx context.Context, code DistributorCode, sku string) (AlbumProcessedEntity, error)
	Add(ctx context.Context, entity AlbumProcessedEntity) error
	Update(ctx context.Context, entity AlbumProcessedEntity) error
	Delete(ctx context.Context, id string) error
	ListByDistributor(ctx context.Context, code DistributorCode) ([]AlbumProcessedEntity, error)
}

// ImageUploader copies a remote image into durable storage.
type ImageUploader interface {
	Upload(ctx context.Context, sku string, imageURL string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}
