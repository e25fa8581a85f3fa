// Package gateway validates and accepts summarization requests and serves
// the owner-scoped job operations behind the HTTP API.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/metrics"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// Publisher hands a job id to the queue.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
}

// Service implements submission, listing, lookup and removal.
type Service struct {
	store     summary.JobStore
	publisher Publisher
	prober    summary.Prober
	ids       summary.IDGenerator
	clock     summary.Clock
	logger    *zap.Logger
}

// NewService constructs a Service.
func NewService(
	store summary.JobStore,
	publisher Publisher,
	prober summary.Prober,
	ids summary.IDGenerator,
	clock summary.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		prober:    prober,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// Submit validates rawURL for ownerID, creates a pending job and publishes
// its id. It returns the new job id.
func (s *Service) Submit(ctx context.Context, ownerID int64, rawURL string) (string, error) {
	id, err := s.submit(ctx, ownerID, rawURL)
	metrics.ObserveSubmission(submissionResult(err))
	return id, err
}

func (s *Service) submit(ctx context.Context, ownerID int64, rawURL string) (string, error) {
	url, err := summary.NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	ok, err := s.prober.IsWebPage(ctx, url)
	if err != nil {
		return "", fmt.Errorf("probe url: %w", err)
	}
	if !ok {
		return "", summary.ErrNotSummarizable
	}

	if _, found, err := s.store.FindActiveDuplicate(ctx, ownerID, url); err != nil {
		return "", fmt.Errorf("check duplicate: %w", err)
	} else if found {
		return "", summary.ErrDuplicateJob
	}

	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job, err := s.store.Create(ctx, summary.NewJob{
		ID:        id,
		OwnerID:   ownerID,
		URL:       url,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := s.publisher.Publish(ctx, job.ID); err != nil {
		s.compensate(ctx, job, err)
		return "", fmt.Errorf("%w: %w", summary.ErrQueueUnavailable, err)
	}

	s.logger.Info("job accepted",
		zap.String("job_id", job.ID),
		zap.Int64("owner_id", ownerID),
		zap.String("url", url),
	)
	return job.ID, nil
}

// compensate hides a job whose id never reached the queue.
func (s *Service) compensate(ctx context.Context, job summary.Job, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.SoftDelete(ctx, job.ID, job.OwnerID); err != nil {
		s.logger.Error("compensating delete failed, job left pending without a message",
			zap.String("job_id", job.ID),
			zap.Int64("owner_id", job.OwnerID),
			zap.NamedError("publish_error", cause),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("publish failed, job withdrawn",
		zap.String("job_id", job.ID),
		zap.Int64("owner_id", job.OwnerID),
		zap.Error(cause),
	)
}

// List returns one page of the owner's non-deleted jobs, newest update first.
func (s *Service) List(ctx context.Context, ownerID int64, page summary.Page) ([]summary.Job, error) {
	if page.Number < 1 {
		return nil, fmt.Errorf("%w: page needs to be more than 0", summary.ErrInvalidInput)
	}
	if page.Size < 1 || page.Size > summary.MaxPageSize {
		return nil, fmt.Errorf("%w: offset needs to be between 1 and %d", summary.ErrInvalidInput, summary.MaxPageSize)
	}
	if !page.Reachable() {
		return []summary.Job{}, nil
	}
	jobs, err := s.store.List(ctx, ownerID, page)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Get returns a job only when it belongs to ownerID and is not deleted.
func (s *Service) Get(ctx context.Context, ownerID int64, id string) (summary.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return summary.Job{}, err
	}
	if job.OwnerID != ownerID || job.Deleted {
		return summary.Job{}, summary.ErrNotFound
	}
	return job, nil
}

// Remove soft-deletes the owner's job.
func (s *Service) Remove(ctx context.Context, ownerID int64, id string) error {
	if err := s.store.SoftDelete(ctx, id, ownerID); err != nil {
		return err
	}
	s.logger.Info("job removed", zap.String("job_id", id), zap.Int64("owner_id", ownerID))
	return nil
}

func submissionResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, summary.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, summary.ErrNotSummarizable):
		return "not_summarizable"
	case errors.Is(err, summary.ErrDuplicateJob):
		return "duplicate"
	case errors.Is(err, summary.ErrQueueUnavailable):
		return "queue_unavailable"
	default:
		return "error"
	}
}
