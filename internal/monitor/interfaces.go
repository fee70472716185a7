package monitor

import (
	"context"
	"io"
	"time"
)

// SearchClient issues one paginated keyword search per call. The cursor must be the
// exact value returned by the preceding call for the same keyword, or empty for page one.
type SearchClient interface {
	Search(ctx context.Context, keyword, cursor string) (Page, error)
}

// Classifier maps free text to exactly one Partition.
type Classifier interface {
	Classify(ctx context.Context, text string) (Partition, error)
}

// DocumentStore is the keyed, append-only document store shared by the ingestor and router.
type DocumentStore interface {
	// InsertIfAbsent stores rec under rec.ID unless that ID already exists in the
	// collection. It reports whether a new document was written and is atomic per ID.
	InsertIfAbsent(ctx context.Context, collection string, rec Record) (bool, error)
	Count(ctx context.Context, collection string) (int64, error)
	DistinctIDs(ctx context.Context, collection string) ([]string, error)
	// Stream calls fn for every document in the collection until fn returns an error.
	Stream(ctx context.Context, collection string, fn func(Record) error) error
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used in archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Limiter paces successive requests against the same key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}
