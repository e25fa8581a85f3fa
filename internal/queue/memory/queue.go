// Package memory provides an in-process job queue for local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// Queue is a bounded in-memory queue. Retries are re-published by timers.
type Queue struct {
	ch      chan summary.Delivery
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	timers  sync.WaitGroup
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan summary.Delivery, capacity),
		done: make(chan struct{}),
	}
}

// Publish pushes a first attempt for jobID or returns if the context ends.
func (q *Queue) Publish(ctx context.Context, jobID string) error {
	return q.push(ctx, summary.Delivery{JobID: jobID, Attempt: 1})
}

func (q *Queue) push(ctx context.Context, d summary.Delivery) error {
	select {
	case <-q.done:
		return summary.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return summary.ErrQueueClosed
	case q.ch <- d:
		return nil
	}
}

// Receive pops the next delivery, respecting context cancellation.
func (q *Queue) Receive(ctx context.Context) (summary.Delivery, error) {
	select {
	case <-ctx.Done():
		return summary.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return summary.Delivery{}, summary.ErrQueueClosed
	case d := <-q.ch:
		return d, nil
	}
}

// Ack is a no-op; a received delivery is already off the queue.
func (q *Queue) Ack(context.Context, summary.Delivery) error {
	return nil
}

// Retry schedules the next attempt for d.JobID after delay.
func (q *Queue) Retry(_ context.Context, d summary.Delivery, delay time.Duration) error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return summary.ErrQueueClosed
	}
	next := summary.Delivery{JobID: d.JobID, Attempt: d.Attempt + 1}
	q.timers.Add(1)
	go func() {
		defer q.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-q.done:
			return
		case <-timer.C:
		}
		select {
		case <-q.done:
		case q.ch <- next:
		}
	}()
	return nil
}

// Len reports the number of buffered deliveries.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops pending retries and unblocks receivers.
func (q *Queue) Close() {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.closeMu.Unlock()
	q.timers.Wait()
}
