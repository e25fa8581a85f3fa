// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/summary"
	"github.com/shivamtherexpandey/usm-app/internal/worker"
)

// Dispatcher fans queue work out to a pool of workers and is the publishing
// side handed to the gateway.
type Dispatcher struct {
	queue   summary.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher. workers may be empty for publish-only processes.
func New(queue summary.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Workers returns the pool size.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every one of them has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	if len(d.workers) == 0 {
		return
	}
	d.logger.Info("starting workers", zap.Int("count", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
	d.logger.Info("workers stopped")
}

// Publish proxies to the underlying queue.
func (d *Dispatcher) Publish(ctx context.Context, jobID string) error {
	if err := d.queue.Publish(ctx, jobID); err != nil {
		return fmt.Errorf("queue publish: %w", err)
	}
	return nil
}
