package summary

import "errors"

var (
	// ErrInvalidInput is returned for malformed submissions or listing parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotSummarizable is returned when the probe classifies the target as a non-page.
	ErrNotSummarizable = errors.New("url does not point to a summarizable web page")
	// ErrDuplicateJob is returned when the owner already has a processed job for the URL.
	ErrDuplicateJob = errors.New("summary already exists for this url")
	// ErrNotFound is returned when a job does not exist or is not visible to the caller.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyProcessed is returned by a conditional commit that lost the race.
	ErrAlreadyProcessed = errors.New("job already processed")
	// ErrQueueDelivery marks a delivered id with no matching job.
	ErrQueueDelivery = errors.New("queue delivered unknown job")
	// ErrQueueUnavailable is returned when a job could not be published.
	ErrQueueUnavailable = errors.New("job queue unavailable")
	// ErrQueueClosed is returned by queues after Close.
	ErrQueueClosed = errors.New("queue closed")
	// ErrTransientFetch marks a document load failure worth retrying.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrTransientModel marks a summarization model failure worth retrying.
	ErrTransientModel = errors.New("transient model error")
)
