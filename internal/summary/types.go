package summary

import (
	"math"
	"time"
)

// QueueName is the wire name of the job queue shared by producers and consumers.
const QueueName = "summarization_queue"

// Status captures the lifecycle of a summarization job.
type Status string

const (
	// StatusPending marks a job that has been accepted but not yet summarized.
	StatusPending Status = "pending"
	// StatusProcessed marks a job whose summary has been committed.
	StatusProcessed Status = "processed"
)

// Job is a single summarization request and, once processed, its result.
type Job struct {
	ID         string
	URL        string
	OwnerID    int64
	ResultText string
	Status     Status
	Deleted    bool
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Processed reports whether the job carries a committed summary.
func (j Job) Processed() bool {
	return j.Status == StatusProcessed
}

// NewJob holds the fields the gateway supplies when creating a job.
type NewJob struct {
	ID        string
	OwnerID   int64
	URL       string
	CreatedAt time.Time
}

// Page selects a window of a listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip. It saturates at math.MaxInt
// instead of overflowing.
func (p Page) Offset() int {
	if p.Number < 1 || p.Size < 1 {
		return 0
	}
	if !p.Reachable() {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}

// Reachable reports whether the page starts at an offset an int can hold.
// Pages past that point are always empty.
func (p Page) Reachable() bool {
	if p.Number < 1 || p.Size < 1 {
		return true
	}
	return p.Number-1 <= math.MaxInt/p.Size
}

const (
	// DefaultPageSize is used when the caller does not ask for a size.
	DefaultPageSize = 10
	// MaxPageSize bounds a single listing page.
	MaxPageSize = 100
)

// Delivery is one attempt at a queued job handed to a worker.
type Delivery struct {
	JobID   string
	Attempt int
	// Receipt is a backend-specific handle used to settle the delivery.
	Receipt string
	// Metadata carries transport attributes such as W3C trace context. It is
	// nil for backends that have none.
	Metadata map[string]string
}
