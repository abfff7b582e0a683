package crawler

import (
	"context"
	"io"
	"time"
)

// Element is a matched node inside a loaded document.
type Element interface {
	Text() string
	Attr(name string) (string, bool)
}

// Document is a queryable handle to a loaded page.
type Document interface {
	URL() string
	QueryFirst(selector string) (Element, bool)
	QueryAll(selector string) []Element
}

// Session is one browser tab. Navigation state is owned by a single caller.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitForSelector(ctx context.Context, selector string) error
	Document(ctx context.Context) (Document, error)
	Close() error
}

// SnapshotSource is implemented by sessions that keep the raw response of
// the last navigation.
type SnapshotSource interface {
	Snapshot() (Snapshot, bool)
}

// SessionProvider hands out independent sessions.
type SessionProvider interface {
	NewSession(ctx context.Context) (Session, error)
}

// TrySessionProvider is implemented by providers with a bounded session pool.
// TryNewSession fails with ErrNoFreeSession instead of waiting for a slot.
type TrySessionProvider interface {
	TryNewSession(ctx context.Context) (Session, error)
}

// Registry tracks job state for concurrent readers and a single writer per job.
type Registry interface {
	Create(seedURL string) (string, error)
	Get(jobID string) (Job, error)
	Update(jobID string, mutate func(*Job) error) error
	RequestCancel(jobID string) error
	CancelRequested(jobID string) bool
}

// ResultSink receives terminal job snapshots.
type ResultSink interface {
	JobFinished(ctx context.Context, job Job) error
}

// Pacer spaces out requests to the same host.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// RecordStore persists extracted records outside the process.
type RecordStore interface {
	StoreRecords(ctx context.Context, job Job) error
	Close()
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
