package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// Executor runs one delivery of a job through load, summarize and commit.
type Executor struct {
	store      summary.JobStore
	summarizer summary.Summarizer
	archive    *Archive
	timeout    time.Duration
	logger     *zap.Logger
}

// NewExecutor constructs an Executor. archive may be nil. A positive timeout
// bounds each summarization call.
func NewExecutor(
	store summary.JobStore,
	summarizer summary.Summarizer,
	archive *Archive,
	timeout time.Duration,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:      store,
		summarizer: summarizer,
		archive:    archive,
		timeout:    timeout,
		logger:     logger,
	}
}

// Execute processes a single delivery and reports what the loop should do
// with it. It never retries on its own.
func (e *Executor) Execute(ctx context.Context, d summary.Delivery) Outcome {
	job, err := e.store.Get(ctx, d.JobID)
	switch {
	case errors.Is(err, summary.ErrNotFound):
		return Fatal(fmt.Errorf("%w: %s", summary.ErrQueueDelivery, d.JobID))
	case err != nil:
		return Retryable(fmt.Errorf("load job: %w", err))
	case job.Processed():
		return OK("already_processed")
	case job.Deleted:
		return OK("deleted")
	}

	text, err := e.summarize(ctx, job)
	if err != nil {
		return Retryable(err)
	}

	err = e.store.MarkProcessed(ctx, job.ID, text)
	switch {
	case errors.Is(err, summary.ErrAlreadyProcessed):
		e.logger.Info("commit lost to a concurrent worker, discarding result", zap.String("job_id", job.ID))
		return OK("lost_race")
	case errors.Is(err, summary.ErrNotFound):
		return Fatal(fmt.Errorf("%w: %s vanished before commit", summary.ErrQueueDelivery, job.ID))
	case err != nil:
		return Retryable(fmt.Errorf("commit summary: %w", err))
	}

	e.archiveResult(ctx, job, text)
	return OK("committed")
}

func (e *Executor) summarize(ctx context.Context, job summary.Job) (string, error) {
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	text, err := e.summarizer.Summarize(runCtx, job.URL)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", job.URL, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("summarize %s: %w: empty summary", job.URL, summary.ErrTransientModel)
	}
	return text, nil
}

// archiveResult is best effort; the job is already committed.
func (e *Executor) archiveResult(ctx context.Context, job summary.Job, text string) {
	if e.archive == nil {
		return
	}
	uri, err := e.archive.Store(ctx, job, text)
	if err != nil {
		e.logger.Warn("archive summary failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	e.logger.Debug("summary archived", zap.String("job_id", job.ID), zap.String("uri", uri))
}
