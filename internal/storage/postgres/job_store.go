package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shivamtherexpandey/usm-app/internal/clock/system"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

const (
	defaultSummariesTable = "summaries"
	jobColumns            = "id, url, user_id, summary, status, is_deleted, deleted_at, created_at, updated_at"
)

// JobStore persists summarization jobs in Postgres.
type JobStore struct {
	db    DB
	table string
	clock summary.Clock
}

// NewJobStore wraps db. table defaults to "summaries"; a nil clock uses the
// system clock.
func NewJobStore(db DB, table string, clock summary.Clock) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultSummariesTable)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{db: db, table: name, clock: clock}, nil
}

// Close releases the underlying pool.
func (s *JobStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Create checks for a processed duplicate and inserts the pending row in one
// transaction. An advisory lock keyed on owner and URL serializes concurrent
// submissions for the same pair.
func (s *JobStore) Create(ctx context.Context, in summary.NewJob) (summary.Job, error) {
	created := in.CreatedAt
	if created.IsZero() {
		created = s.clock.Now()
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return summary.Job{}, fmt.Errorf("begin create job: %w", err)
	}
	committed := false
	defer rollback(ctx, tx, &committed)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", lockKey(in.OwnerID, in.URL)); err != nil {
		return summary.Job{}, fmt.Errorf("lock owner url: %w", err)
	}
	var exists bool
	existsQuery := fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s WHERE user_id = $1 AND url = $2 AND status = 'processed' AND NOT is_deleted)",
		s.table,
	)
	if err := tx.QueryRow(ctx, existsQuery, in.OwnerID, in.URL).Scan(&exists); err != nil {
		return summary.Job{}, fmt.Errorf("check duplicate job: %w", err)
	}
	if exists {
		return summary.Job{}, summary.ErrDuplicateJob
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (id, url, user_id, status, is_deleted, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', FALSE, $4, $4)`, s.table)
	if _, err := tx.Exec(ctx, insert, in.ID, in.URL, in.OwnerID, created); err != nil {
		return summary.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return summary.Job{}, fmt.Errorf("commit job: %w", err)
	}
	committed = true
	return summary.Job{
		ID:        in.ID,
		URL:       in.URL,
		OwnerID:   in.OwnerID,
		Status:    summary.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}, nil
}

// Get loads a job by id, including soft-deleted rows.
func (s *JobStore) Get(ctx context.Context, id string) (summary.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", jobColumns, s.table)
	job, err := scanJob(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return summary.Job{}, summary.ErrNotFound
		}
		return summary.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// FindActiveDuplicate returns the newest non-deleted processed job for owner and url.
func (s *JobStore) FindActiveDuplicate(ctx context.Context, ownerID int64, url string) (summary.Job, bool, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE user_id = $1 AND url = $2 AND status = 'processed' AND NOT is_deleted
ORDER BY updated_at DESC
LIMIT 1`, jobColumns, s.table)
	job, err := scanJob(s.db.QueryRow(ctx, query, ownerID, url))
	if err != nil {
		if isNoRows(err) {
			return summary.Job{}, false, nil
		}
		return summary.Job{}, false, fmt.Errorf("find duplicate job: %w", err)
	}
	return job, true, nil
}

// MarkProcessed sets the summary only while the row is still pending.
func (s *JobStore) MarkProcessed(ctx context.Context, id string, resultText string) error {
	query := fmt.Sprintf(`
UPDATE %s SET summary = $2, status = 'processed', updated_at = $3
WHERE id = $1 AND status = 'pending'`, s.table)
	res, err := s.db.Exec(ctx, query, id, resultText, s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark job processed: %w", err)
	}
	if res.RowsAffected() == 1 {
		return nil
	}
	var status string
	statusQuery := fmt.Sprintf("SELECT status FROM %s WHERE id = $1", s.table)
	if err := s.db.QueryRow(ctx, statusQuery, id).Scan(&status); err != nil {
		if isNoRows(err) {
			return summary.ErrNotFound
		}
		return fmt.Errorf("read job status: %w", err)
	}
	return summary.ErrAlreadyProcessed
}

// SoftDelete flags the owner's job as deleted.
func (s *JobStore) SoftDelete(ctx context.Context, id string, ownerID int64) error {
	query := fmt.Sprintf(`
UPDATE %s SET is_deleted = TRUE, deleted_at = $3, updated_at = $3
WHERE id = $1 AND user_id = $2 AND NOT is_deleted`, s.table)
	res, err := s.db.Exec(ctx, query, id, ownerID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("soft delete job: %w", err)
	}
	if res.RowsAffected() == 0 {
		return summary.ErrNotFound
	}
	return nil
}

// List returns one page of the owner's non-deleted jobs, newest update first.
func (s *JobStore) List(ctx context.Context, ownerID int64, page summary.Page) ([]summary.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE user_id = $1 AND NOT is_deleted
ORDER BY updated_at DESC, id DESC
LIMIT $2 OFFSET $3`, jobColumns, s.table)
	rows, err := s.db.Query(ctx, query, ownerID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]summary.Job, 0, page.Size)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (summary.Job, error) {
	var (
		job       summary.Job
		result    *string
		status    string
		deletedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.URL,
		&job.OwnerID,
		&result,
		&status,
		&job.Deleted,
		&deletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return summary.Job{}, err
	}
	if result != nil {
		job.ResultText = *result
	}
	job.Status = summary.Status(status)
	job.DeletedAt = deletedAt
	return job, nil
}

func lockKey(ownerID int64, url string) string {
	return strconv.FormatInt(ownerID, 10) + "|" + url
}
