// Package worker consumes summarization jobs from the queue, runs them and
// settles each delivery according to its outcome.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/metrics"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// Config controls redelivery.
type Config struct {
	// MaxAttempts is the total number of deliveries a job may receive.
	MaxAttempts int
	// RetryDelay is the fixed wait before a failed job is delivered again.
	RetryDelay time.Duration
	// Propagator and TracerProvider default to the otel globals.
	Propagator     propagation.TextMapPropagator
	TracerProvider trace.TracerProvider
}

// Worker consumes deliveries and owns the attempt counter.
type Worker struct {
	queue  summary.Queue
	exec   *Executor
	cfg    Config
	tracer trace.Tracer
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue summary.Queue, exec *Executor, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		exec:   exec,
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer("github.com/shivamtherexpandey/usm-app/internal/worker"),
		logger: logger,
	}
}

// Run blocks, consuming deliveries until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		d, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, summary.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue receive failed", zap.Error(err))
			if sleepErr := summary.Sleep(ctx, time.Second); sleepErr != nil {
				return
			}
			continue
		}
		w.logger.Debug("received job", zap.String("job_id", d.JobID), zap.Int("attempt", d.Attempt))
		w.handle(ctx, d)
	}
}

func (w *Worker) handle(ctx context.Context, d summary.Delivery) {
	// continue the trace started by the publisher, when the backend carries one
	ctx = w.cfg.Propagator.Extract(ctx, propagation.MapCarrier(d.Metadata))
	ctx, span := w.tracer.Start(ctx, "summarize job",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("usm.job_id", d.JobID),
			attribute.Int("usm.attempt", d.Attempt),
		),
	)
	defer span.End()

	outcome := w.exec.Execute(ctx, d)
	span.SetAttributes(attribute.String("usm.outcome", outcome.label()))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
	if ctx.Err() != nil {
		// shutting down; the backend redelivers unsettled work
		w.logger.Info("shutdown interrupted job, leaving delivery unsettled",
			zap.String("job_id", d.JobID),
			zap.Int("attempt", d.Attempt),
		)
		return
	}
	metrics.ObserveJobOutcome(outcome.label())

	switch outcome.Kind {
	case KindOK:
		w.logger.Info("job settled",
			zap.String("job_id", d.JobID),
			zap.Int("attempt", d.Attempt),
			zap.String("reason", outcome.Reason),
		)
		w.ack(ctx, d)
	case KindFatal:
		w.logger.Error("job failed permanently",
			zap.String("job_id", d.JobID),
			zap.Int("attempt", d.Attempt),
			zap.Error(outcome.Err),
		)
		w.ack(ctx, d)
	case KindRetryable:
		if d.Attempt >= w.cfg.MaxAttempts {
			metrics.ObserveAttemptsExhausted()
			w.logger.Error("job attempts exhausted, leaving pending",
				zap.String("job_id", d.JobID),
				zap.Int("attempt", d.Attempt),
				zap.Int("max_attempts", w.cfg.MaxAttempts),
				zap.Error(outcome.Err),
			)
			w.ack(ctx, d)
			return
		}
		w.logger.Warn("job failed, scheduling retry",
			zap.String("job_id", d.JobID),
			zap.Int("attempt", d.Attempt),
			zap.Duration("delay", w.cfg.RetryDelay),
			zap.Error(outcome.Err),
		)
		if err := w.queue.Retry(ctx, d, w.cfg.RetryDelay); err != nil {
			w.logger.Error("schedule retry failed", zap.String("job_id", d.JobID), zap.Error(err))
		}
	}
}

func (w *Worker) ack(ctx context.Context, d summary.Delivery) {
	if err := w.queue.Ack(ctx, d); err != nil {
		w.logger.Error("ack failed", zap.String("job_id", d.JobID), zap.Error(err))
	}
}
