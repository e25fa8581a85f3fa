// Package pubsub implements the job queue on Google Cloud Pub/Sub.
//
// Each message carries the job id as its data and the attempt number in the
// "attempt" attribute. A retry republishes the id with the next attempt once
// the delay elapses and only then acks the original message, so a crash during
// the delay leaves the original to be redelivered by Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

const attemptAttribute = "attempt"

// Config names the topic and subscription, as ids or fully qualified names.
type Config struct {
	Topic        string
	Subscription string
}

type inflight struct {
	msg     *pubsub.Message
	settled chan struct{}
}

// Queue is a Pub/Sub-backed summary.Queue.
type Queue struct {
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	logger     *zap.Logger

	incoming chan *inflight
	mu       sync.Mutex
	pending  map[string]*inflight

	startOnce sync.Once
	runCtx    context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	recvErr   error
	retries   sync.WaitGroup
}

// New builds a queue publishing to cfg.Topic and consuming cfg.Subscription.
func New(client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = summary.QueueName
	}
	if cfg.Subscription == "" {
		cfg.Subscription = cfg.Topic + "-workers"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Queue{
		publisher:  client.Publisher(cfg.Topic),
		subscriber: client.Subscriber(cfg.Subscription),
		logger:     logger,
		incoming:   make(chan *inflight),
		pending:    make(map[string]*inflight),
		runCtx:     runCtx,
		cancel:     cancel,
		stopped:    make(chan struct{}),
	}, nil
}

// Publish sends the first attempt for jobID.
func (q *Queue) Publish(ctx context.Context, jobID string) error {
	return q.publish(ctx, jobID, 1)
}

func (q *Queue) publish(ctx context.Context, jobID string, attempt int) error {
	msg := &pubsub.Message{
		Data:       []byte(jobID),
		Attributes: map[string]string{attemptAttribute: strconv.Itoa(attempt)},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	if _, err := q.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Receive returns the next message. The first call starts the streaming pull.
func (q *Queue) Receive(ctx context.Context) (summary.Delivery, error) {
	q.startOnce.Do(func() {
		go func() {
			defer close(q.stopped)
			if err := q.subscriber.Receive(q.runCtx, q.handle); err != nil {
				q.recvErr = err
			}
		}()
	})
	select {
	case <-ctx.Done():
		return summary.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.stopped:
		if q.recvErr != nil {
			return summary.Delivery{}, fmt.Errorf("pubsub receive: %w", q.recvErr)
		}
		return summary.Delivery{}, summary.ErrQueueClosed
	case f := <-q.incoming:
		q.mu.Lock()
		q.pending[f.msg.ID] = f
		q.mu.Unlock()
		return summary.Delivery{
			JobID:    string(f.msg.Data),
			Attempt:  attemptOf(f.msg),
			Receipt:  f.msg.ID,
			Metadata: traceMetadata(f.msg.Attributes),
		}, nil
	}
}

// handle parks the message until a worker settles it so flow control and
// lease extension stay with the subscriber.
func (q *Queue) handle(ctx context.Context, msg *pubsub.Message) {
	f := &inflight{msg: msg, settled: make(chan struct{})}
	select {
	case q.incoming <- f:
	case <-ctx.Done():
		msg.Nack()
		return
	}
	select {
	case <-f.settled:
	case <-ctx.Done():
	}
}

// Ack settles the delivery for good.
func (q *Queue) Ack(_ context.Context, d summary.Delivery) error {
	f, err := q.take(d.Receipt)
	if err != nil {
		return err
	}
	f.msg.Ack()
	close(f.settled)
	return nil
}

// Retry republishes the job with the next attempt after delay, then acks the
// original. The original is nacked if the queue closes first.
func (q *Queue) Retry(_ context.Context, d summary.Delivery, delay time.Duration) error {
	f, err := q.take(d.Receipt)
	if err != nil {
		return err
	}
	q.retries.Add(1)
	go func() {
		defer q.retries.Done()
		defer close(f.settled)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-q.runCtx.Done():
			f.msg.Nack()
			return
		case <-timer.C:
		}
		if err := q.publish(q.runCtx, d.JobID, d.Attempt+1); err != nil {
			q.logger.Error("republish failed; original will be redelivered",
				zap.String("job_id", d.JobID),
				zap.Int("attempt", d.Attempt),
				zap.Error(err),
			)
			f.msg.Nack()
			return
		}
		f.msg.Ack()
	}()
	return nil
}

func (q *Queue) take(receipt string) (*inflight, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, ok := q.pending[receipt]
	if !ok {
		return nil, fmt.Errorf("unknown delivery receipt %q", receipt)
	}
	delete(q.pending, receipt)
	return f, nil
}

// Close stops receiving, nacks parked retries and flushes the publisher.
func (q *Queue) Close() {
	q.cancel()
	q.retries.Wait()
	q.publisher.Stop()
	started := true
	q.startOnce.Do(func() { started = false })
	if started {
		<-q.stopped
	}
}

func attemptOf(msg *pubsub.Message) int {
	n, err := strconv.Atoi(msg.Attributes[attemptAttribute])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// traceMetadata extracts the publisher's trace context from the message
// attributes and returns only the propagation fields, or nil when the message
// carries none.
func traceMetadata(attrs map[string]string) map[string]string {
	prop := otel.GetTextMapPropagator()
	ctx := prop.Extract(context.Background(), &pubsubCarrier{attrs: attrs})
	out := propagation.MapCarrier{}
	prop.Inject(ctx, out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
