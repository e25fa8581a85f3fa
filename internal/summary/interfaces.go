package summary

import (
	"context"
	"io"
	"time"
)

// JobStore persists summarization jobs.
type JobStore interface {
	// Create inserts a pending job. It fails with ErrDuplicateJob when a
	// non-deleted processed job already exists for the same owner and URL.
	Create(ctx context.Context, job NewJob) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	// FindActiveDuplicate returns the non-deleted processed job for owner and
	// URL. The bool is false when there is none.
	FindActiveDuplicate(ctx context.Context, ownerID int64, url string) (Job, bool, error)
	// MarkProcessed commits the summary only if the job is still pending.
	MarkProcessed(ctx context.Context, id string, resultText string) error
	SoftDelete(ctx context.Context, id string, ownerID int64) error
	List(ctx context.Context, ownerID int64, page Page) ([]Job, error)
}

// Queue transports job ids from the gateway to the workers.
type Queue interface {
	Publish(ctx context.Context, jobID string) error
	// Receive blocks until a delivery is available or ctx is done.
	Receive(ctx context.Context) (Delivery, error)
	// Ack settles a delivery for good.
	Ack(ctx context.Context, d Delivery) error
	// Retry settles a delivery and schedules the same job again after delay
	// with the attempt counter incremented.
	Retry(ctx context.Context, d Delivery, delay time.Duration) error
}

// Prober decides whether a URL points at a page worth summarizing.
type Prober interface {
	IsWebPage(ctx context.Context, rawURL string) (bool, error)
}

// Document is the loaded text of a web page.
type Document struct {
	URL   string
	Title string
	Text  string
}

// DocumentLoader fetches a URL and extracts readable text.
type DocumentLoader interface {
	Load(ctx context.Context, rawURL string) (Document, error)
}

// Summarizer turns a URL into summary text.
type Summarizer interface {
	Summarize(ctx context.Context, rawURL string) (string, error)
}

// BlobStore archives artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job ids.
type IDGenerator interface {
	NewID() (string, error)
}
