// Package memory holds in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shivamtherexpandey/usm-app/internal/clock/system"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// JobStore keeps summarization jobs in a map guarded by a mutex.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]summary.Job
	clock summary.Clock
}

// NewJobStore constructs a JobStore. A nil clock uses the system clock.
func NewJobStore(clock summary.Clock) *JobStore {
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{
		jobs:  make(map[string]summary.Job),
		clock: clock,
	}
}

// Create stores a pending job. The duplicate check and the insert happen
// under the same lock.
func (s *JobStore) Create(_ context.Context, in summary.NewJob) (summary.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[in.ID]; exists {
		return summary.Job{}, fmt.Errorf("create job %s: id already exists", in.ID)
	}
	if _, found := s.findDuplicateLocked(in.OwnerID, in.URL); found {
		return summary.Job{}, summary.ErrDuplicateJob
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = s.clock.Now()
	}
	job := summary.Job{
		ID:        in.ID,
		URL:       in.URL,
		OwnerID:   in.OwnerID,
		Status:    summary.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
	s.jobs[job.ID] = job
	return job, nil
}

// Get fetches a job by ID, deleted or not.
func (s *JobStore) Get(_ context.Context, id string) (summary.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return summary.Job{}, summary.ErrNotFound
	}
	return job, nil
}

// FindActiveDuplicate returns the non-deleted processed job for owner and url.
func (s *JobStore) FindActiveDuplicate(_ context.Context, ownerID int64, url string) (summary.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, found := s.findDuplicateLocked(ownerID, url)
	return job, found, nil
}

func (s *JobStore) findDuplicateLocked(ownerID int64, url string) (summary.Job, bool) {
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && job.URL == url && !job.Deleted && job.Processed() {
			return job, true
		}
	}
	return summary.Job{}, false
}

// MarkProcessed commits the summary if the job is still pending.
func (s *JobStore) MarkProcessed(_ context.Context, id string, resultText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return summary.ErrNotFound
	}
	if job.Status != summary.StatusPending {
		return summary.ErrAlreadyProcessed
	}
	job.Status = summary.StatusProcessed
	job.ResultText = resultText
	job.UpdatedAt = s.clock.Now()
	s.jobs[id] = job
	return nil
}

// SoftDelete flags the owner's job as deleted.
func (s *JobStore) SoftDelete(_ context.Context, id string, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Deleted || job.OwnerID != ownerID {
		return summary.ErrNotFound
	}
	now := s.clock.Now()
	job.Deleted = true
	job.DeletedAt = &now
	job.UpdatedAt = now
	s.jobs[id] = job
	return nil
}

// List returns the owner's non-deleted jobs, most recently updated first.
func (s *JobStore) List(_ context.Context, ownerID int64, page summary.Page) ([]summary.Job, error) {
	s.mu.RLock()
	owned := make([]summary.Job, 0)
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && !job.Deleted {
			owned = append(owned, job)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
	})

	start := max(page.Offset(), 0)
	if start >= len(owned) {
		return []summary.Job{}, nil
	}
	end := start + page.Size
	if page.Size <= 0 || end > len(owned) || end < start {
		end = len(owned)
	}
	out := make([]summary.Job, end-start)
	copy(out, owned[start:end])
	return out, nil
}

// Ping always succeeds.
func (s *JobStore) Ping(context.Context) error {
	return nil
}
