package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/emergent-company/pilgrimops/pkg/logger"
	"github.com/emergent-company/pilgrimops/pkg/tracing"
)

var (
	// ErrJobTimeout marks an attempt that exceeded its execution deadline.
	ErrJobTimeout = errors.New("job timed out")
	// ErrHandlerPanic marks an attempt whose handler panicked.
	ErrHandlerPanic = errors.New("job handler panicked")
)

// runQueue admits jobs of q while a concurrency slot is free.
func (b *Broker) runQueue(ctx context.Context, q *queue) {
	defer b.wg.Done()

	for {
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return
		}
		rec, job, ok := b.next(ctx, q)
		if !ok {
			q.sem.Release(1)
			return
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer q.sem.Release(1)
			b.execute(q, rec, job)
		}()
	}
}

// next blocks until a job is runnable or ctx is done.
func (b *Broker) next(ctx context.Context, q *queue) (*record, Job, bool) {
	for {
		if rec, job := q.take(); rec != nil {
			return rec, job, true
		}
		select {
		case <-ctx.Done():
			return nil, Job{}, false
		case <-q.wake:
		}
	}
}

func (b *Broker) execute(q *queue, rec *record, job Job) {
	b.mu.RLock()
	base := b.execCtx
	b.mu.RUnlock()

	ctx, span := tracing.StartLinked(base, rec.link, "jobs.execute",
		attribute.String("pilgrimops.job.id", job.ID),
		attribute.String("pilgrimops.job.queue", job.Queue),
		attribute.String("pilgrimops.job.kind", string(job.Kind)),
		attribute.String("pilgrimops.tenant.id", job.TenantID()),
		attribute.Int("pilgrimops.job.attempt", job.Attempt),
	)
	defer span.End()

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if rec.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, rec.opts.Timeout)
	}

	start := time.Now()
	result, err := b.invoke(runCtx, q, rec, job)
	outcome := "success"
	if err != nil {
		outcome = "error"
		switch {
		case errors.Is(err, ErrHandlerPanic):
			outcome = "panic"
		case rec.opts.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded):
			outcome = "timeout"
			err = fmt.Errorf("%w after %s: %w", ErrJobTimeout, rec.opts.Timeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	cancel()

	JobDuration.WithLabelValues(job.Queue, string(job.Kind)).Observe(time.Since(start).Seconds())
	JobAttempts.WithLabelValues(job.Queue, string(job.Kind), outcome).Inc()

	final, terminal := b.finish(q, rec, result, err)

	log := b.log.With(
		slog.String("queue", final.Queue),
		slog.String("kind", string(final.Kind)),
		slog.String("job_id", final.ID),
		slog.Int("attempt", final.Attempt),
		slog.Int("max_attempts", final.MaxAttempts))

	if !terminal {
		log.Warn("job attempt failed, retrying",
			logger.Error(err),
			slog.Any("run_at", final.RunAt))
		return
	}

	JobsFinished.WithLabelValues(final.Queue, string(final.State)).Inc()
	span.SetAttributes(attribute.String("pilgrimops.job.state", string(final.State)))

	if final.State == StateCompleted {
		log.Debug("job completed", slog.Duration("duration", time.Since(start)))
		b.notifier.JobCompleted(ctx, final)
	} else {
		log.Error("job failed", logger.Error(err))
		b.notifier.JobFailed(ctx, final)
	}

	if b.archiver != nil {
		if aerr := b.archiver.Archive(ctx, final); aerr != nil {
			log.Warn("archive job failed", logger.Error(aerr))
		}
	}
}

// invoke runs the handler, converting a panic into an error.
func (b *Broker) invoke(ctx context.Context, q *queue, rec *record, job Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("job handler panic",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return q.mux.Dispatch(ctx, job, b.progressFunc(ctx, q, rec))
}

func (b *Broker) progressFunc(ctx context.Context, q *queue, rec *record) ProgressFunc {
	return func(percent int) {
		percent = min(max(percent, 0), 100)

		q.mu.Lock()
		if rec.job.State != StateActive {
			q.mu.Unlock()
			return
		}
		rec.job.Progress = percent
		emit := percent == 100 || time.Since(rec.lastProgress) >= b.progressInterval
		if emit {
			rec.lastProgress = time.Now()
		}
		snapshot := rec.job
		q.mu.Unlock()

		if emit {
			b.notifier.JobProgress(ctx, snapshot)
		}
	}
}

// finish records the outcome of an attempt. It returns the job snapshot and
// whether the job reached a terminal state.
func (b *Broker) finish(q *queue, rec *record, result any, err error) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	if err == nil {
		rec.job.State = StateCompleted
		rec.job.Result = result
		rec.job.Error = ""
		rec.job.Progress = 100
		rec.job.FinishedAt = &now
		q.retain(&q.completed, rec.job.ID, keepCompleted)
		return rec.job, true
	}

	rec.job.Error = err.Error()
	if rec.job.Attempt < rec.job.MaxAttempts && !isPermanent(err) {
		var delay time.Duration
		if rec.opts.Backoff != nil {
			delay = rec.opts.Backoff.DelayFor(rec.job.Attempt)
		}
		q.schedule(rec, delay)
		return rec.job, false
	}

	rec.job.State = StateFailed
	rec.job.FinishedAt = &now
	q.retain(&q.failed, rec.job.ID, keepFailed)
	return rec.job, true
}
