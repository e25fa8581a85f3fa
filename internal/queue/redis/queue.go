// Package redis implements the job queue on Redis lists.
//
// Layout for a queue named Q:
//
//	Q             ready list (LPUSH producers, BLMOVE consumers)
//	Q:processing  deliveries handed to a worker and not yet settled
//	Q:delayed     sorted set of retries scored by due time in unix ms
//	Q:attempts    hash of job id to the attempt number of its next delivery
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// Config tunes the queue.
type Config struct {
	Name string
	// PollInterval bounds how long a Receive blocks before checking for due retries.
	PollInterval time.Duration
	// PromoteBatch caps how many due retries move to the ready list per poll.
	PromoteBatch int
}

var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

// Queue is a Redis-backed summary.Queue.
type Queue struct {
	client       redis.UniversalClient
	ready        string
	processing   string
	delayed      string
	attempts     string
	pollInterval time.Duration
	promoteBatch int
	now          func() time.Time
}

// New builds a queue on client.
func New(client redis.UniversalClient, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	name := cfg.Name
	if name == "" {
		name = summary.QueueName
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	batch := cfg.PromoteBatch
	if batch <= 0 {
		batch = 100
	}
	return &Queue{
		client:       client,
		ready:        name,
		processing:   name + ":processing",
		delayed:      name + ":delayed",
		attempts:     name + ":attempts",
		pollInterval: poll,
		promoteBatch: batch,
		now:          time.Now,
	}, nil
}

// Publish records attempt 1 and pushes jobID onto the ready list.
func (q *Queue) Publish(ctx context.Context, jobID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.attempts, jobID, 1)
		pipe.LPush(ctx, q.ready, jobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", jobID, err)
	}
	return nil
}

// Receive moves the oldest ready job to the processing list.
func (q *Queue) Receive(ctx context.Context) (summary.Delivery, error) {
	for {
		if err := q.promoteDue(ctx); err != nil {
			return summary.Delivery{}, err
		}
		jobID, err := q.client.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", q.pollInterval).Result()
		if ctx.Err() != nil {
			return summary.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return summary.Delivery{}, fmt.Errorf("blmove: %w", err)
		}
		attempt, err := q.client.HGet(ctx, q.attempts, jobID).Int()
		if errors.Is(err, redis.Nil) {
			attempt = 1
		} else if err != nil {
			return summary.Delivery{}, fmt.Errorf("read attempt for %s: %w", jobID, err)
		}
		return summary.Delivery{JobID: jobID, Attempt: attempt, Receipt: jobID}, nil
	}
}

// Ack drops the delivery from the processing list.
func (q *Queue) Ack(ctx context.Context, d summary.Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.Receipt)
		pipe.HDel(ctx, q.attempts, d.JobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", d.JobID, err)
	}
	return nil
}

// Retry moves the delivery from the processing list to the delayed set.
func (q *Queue) Retry(ctx context.Context, d summary.Delivery, delay time.Duration) error {
	due := q.now().Add(delay).UnixMilli()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.Receipt)
		pipe.HSet(ctx, q.attempts, d.JobID, d.Attempt+1)
		pipe.ZAdd(ctx, q.delayed, redis.Z{Score: float64(due), Member: d.JobID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry %s: %w", d.JobID, err)
	}
	return nil
}

// RequeueProcessing moves every unsettled delivery back to the ready list.
// Run it only when no other consumer is active; the server gates it behind
// redis.requeue_on_start.
func (q *Queue) RequeueProcessing(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, q.processing, q.ready, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("requeue processing: %w", err)
		}
		moved++
	}
}

func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	err := promoteScript.Run(ctx, q.client, []string{q.delayed, q.ready}, now, q.promoteBatch).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if ctx.Err() != nil {
			return fmt.Errorf("dequeue canceled: %w", ctx.Err())
		}
		return fmt.Errorf("promote delayed jobs: %w", err)
	}
	return nil
}
