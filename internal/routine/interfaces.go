package routine

import (
	"context"
	"io"
	"time"
)

// Discoverer finds document references on the listing page.
type Discoverer interface {
	Discover(ctx context.Context, listingURL string) ([]DocumentReference, error)
}

// Renderer exports an asynchronously rendered page as a PDF document.
type Renderer interface {
	RenderPDF(ctx context.Context, rawURL string) ([]byte, error)
}

// Downloader retrieves a document body over plain HTTP.
type Downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// BlobStore persists blobs and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher sends notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RecordStore replaces the persisted record set with a freshly built index.
type RecordStore interface {
	ReplaceRecords(ctx context.Context, runID string, records []Record) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes a content digest.
type Hasher interface {
	Hash(data []byte) (string, error)
}
