package jobs

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Broker owns every registered queue and the jobs in it, from submission to
// terminal state. Each queue runs its own pool bounded by its concurrency.
type Broker struct {
	log              *slog.Logger
	notifier         Notifier
	archiver         Archiver
	defaults         Options
	progressInterval time.Duration

	mu         sync.RWMutex
	queues     map[string]*queue
	running    bool
	loopCtx    context.Context
	stopLoops  context.CancelFunc
	execCtx    context.Context
	cancelExec context.CancelFunc
	wg         sync.WaitGroup
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithNotifier sets the receiver of job lifecycle notifications.
func WithNotifier(n Notifier) BrokerOption {
	return func(b *Broker) {
		if n != nil {
			b.notifier = n
		}
	}
}

// WithArchiver sets where terminal jobs are persisted.
func WithArchiver(a Archiver) BrokerOption {
	return func(b *Broker) { b.archiver = a }
}

// WithDefaults replaces the broker-wide job defaults.
func WithDefaults(o Options) BrokerOption {
	return func(b *Broker) { b.defaults = o.withDefaults(DefaultOptions()) }
}

// WithProgressInterval sets the minimum gap between progress notifications of one job.
func WithProgressInterval(d time.Duration) BrokerOption {
	return func(b *Broker) { b.progressInterval = d }
}

// NewBroker creates a broker with no queues.
func NewBroker(log *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		log:              log.With(logger.Scope("jobs.broker")),
		notifier:         nopNotifier{},
		defaults:         DefaultOptions(),
		progressInterval: time.Second,
		queues:           make(map[string]*queue),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterQueue adds a queue bound to mux. The mux must cover exactly the kinds it declares.
func (b *Broker) RegisterQueue(cfg QueueConfig, mux *Mux) error {
	if cfg.Name == "" {
		return errors.New("queue name is required")
	}
	if mux == nil {
		return fmt.Errorf("queue %q: mux is required", cfg.Name)
	}
	if err := mux.Validate(); err != nil {
		return fmt.Errorf("queue %q: %w", cfg.Name, err)
	}
	if cfg.Defaults.Backoff != nil {
		if err := cfg.Defaults.Backoff.Validate(); err != nil {
			return fmt.Errorf("queue %q: %w", cfg.Name, err)
		}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.queues[cfg.Name]; exists {
		return fmt.Errorf("queue %q already registered", cfg.Name)
	}
	q := newQueue(cfg, mux)
	b.queues[cfg.Name] = q

	b.log.Info("queue registered",
		slog.String("queue", cfg.Name),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Int("kinds", len(mux.Kinds())))

	if b.running {
		b.wg.Add(1)
		go b.runQueue(b.loopCtx, q)
	}
	return nil
}

// Queues lists registered queues sorted by name.
func (b *Broker) Queues() []QueueInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]QueueInfo, 0, len(b.queues))
	for _, q := range b.queues {
		out = append(out, q.info())
	}
	slices.SortFunc(out, func(a, b QueueInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

func (b *Broker) queue(name string) (*queue, error) {
	b.mu.RLock()
	q, ok := b.queues[name]
	b.mu.RUnlock()
	if !ok {
		return nil, apperror.ErrUnknownQueue.WithMessage(fmt.Sprintf("queue '%s' is not registered", name))
	}
	return q, nil
}

// Submit enqueues a job and returns its ID. The job is waiting, or delayed when
// opts.Delay is set.
func (b *Broker) Submit(ctx context.Context, queueName string, kind Kind, payload Payload, opts Options) (string, error) {
	q, err := b.queue(queueName)
	if err != nil {
		return "", err
	}
	if payload.TenantID == "" {
		return "", apperror.ErrMissingTenant
	}
	if !q.mux.Accepts(kind) {
		return "", apperror.ErrUnknownJobType.WithMessage(
			fmt.Sprintf("queue '%s' does not accept job kind '%s'", queueName, kind))
	}
	if opts.Backoff != nil {
		if err := opts.Backoff.Validate(); err != nil {
			return "", apperror.NewBadRequest(err.Error())
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = q.cfg.KindTimeouts[kind]
	}
	o := opts.withDefaults(q.cfg.Defaults.withDefaults(b.defaults))

	rec := &record{
		job: Job{
			ID:          uuid.NewString(),
			Queue:       queueName,
			Kind:        kind,
			Payload:     payload,
			MaxAttempts: o.Attempts,
			Priority:    o.Priority,
			CreatedAt:   time.Now(),
		},
		opts:  o,
		index: -1,
		link:  trace.SpanContextFromContext(ctx),
	}

	q.mu.Lock()
	q.jobs[rec.job.ID] = rec
	q.schedule(rec, o.Delay)
	state := rec.job.State
	q.mu.Unlock()

	JobsSubmitted.WithLabelValues(queueName, string(kind)).Inc()
	b.log.DebugContext(ctx, "job submitted",
		slog.String("queue", queueName),
		slog.String("kind", string(kind)),
		slog.String("job_id", rec.job.ID),
		slog.String("tenant_id", payload.TenantID),
		slog.String("state", string(state)))

	return rec.job.ID, nil
}

// GetStatus returns a snapshot of the job. Jobs purged by retention or
// cancelled are reported as not found.
func (b *Broker) GetStatus(ctx context.Context, queueName, jobID string) (Job, error) {
	q, err := b.queue(queueName)
	if err != nil {
		return Job{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.jobs[jobID]
	if !ok {
		return Job{}, apperror.NewNotFound("job", jobID)
	}
	return rec.job, nil
}

// Cancel removes a waiting or delayed job. Terminal jobs are left alone; an
// active job cannot be cancelled.
func (b *Broker) Cancel(ctx context.Context, queueName, jobID string) error {
	q, err := b.queue(queueName)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.jobs[jobID]
	if !ok {
		return apperror.NewNotFound("job", jobID)
	}

	switch rec.job.State {
	case StateActive:
		return apperror.ErrJobActive
	case StateCompleted, StateFailed:
		return nil
	case StateWaiting:
		if rec.index >= 0 {
			heap.Remove(&q.ready, rec.index)
		}
	case StateDelayed:
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
	}
	delete(q.jobs, jobID)

	b.log.DebugContext(ctx, "job cancelled",
		slog.String("queue", queueName),
		slog.String("job_id", jobID))
	return nil
}

// Retry re-queues a failed job. Attempts keep accumulating unless
// opts.ResetAttempts is set.
func (b *Broker) Retry(ctx context.Context, queueName, jobID string, opts RetryOptions) error {
	q, err := b.queue(queueName)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.jobs[jobID]
	if !ok {
		return apperror.NewNotFound("job", jobID)
	}
	if rec.job.State != StateFailed {
		return apperror.ErrJobNotFailed.WithDetails(map[string]any{"state": string(rec.job.State)})
	}

	forget(&q.failed, jobID)
	if opts.ResetAttempts {
		rec.job.Attempt = 0
	}
	rec.job.Error = ""
	rec.job.Result = nil
	rec.job.FinishedAt = nil
	q.schedule(rec, 0)

	b.log.DebugContext(ctx, "job retried",
		slog.String("queue", queueName),
		slog.String("job_id", jobID),
		slog.Int("attempt", rec.job.Attempt),
		slog.Bool("reset_attempts", opts.ResetAttempts))
	return nil
}

// Metrics returns per-state counts for a queue.
func (b *Broker) Metrics(ctx context.Context, queueName string) (Metrics, error) {
	q, err := b.queue(queueName)
	if err != nil {
		return Metrics{}, err
	}
	return q.metrics(), nil
}

// RefreshGauges publishes every queue's state counts to Prometheus.
func (b *Broker) RefreshGauges() {
	b.mu.RLock()
	qs := make([]*queue, 0, len(b.queues))
	for _, q := range b.queues {
		qs = append(qs, q)
	}
	b.mu.RUnlock()

	for _, q := range qs {
		observeMetrics(q.cfg.Name, q.metrics())
	}
}

// Start launches one pool loop per registered queue.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}
	b.running = true
	b.loopCtx, b.stopLoops = context.WithCancel(context.WithoutCancel(ctx))
	b.execCtx, b.cancelExec = context.WithCancel(context.WithoutCancel(ctx))

	for _, q := range b.queues {
		q.resumeTimers()
		b.wg.Add(1)
		go b.runQueue(b.loopCtx, q)
	}

	b.log.Info("broker started", slog.Int("queues", len(b.queues)))
	return nil
}

// Stop stops admitting jobs and waits for in-flight jobs to finish. When ctx
// expires first, in-flight jobs see their context cancelled.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.stopLoops()
	for _, q := range b.queues {
		q.stopTimers()
	}
	cancelExec := b.cancelExec
	b.mu.Unlock()

	b.log.Debug("waiting for in-flight jobs...")

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("broker stopped gracefully")
	case <-ctx.Done():
		b.log.Warn("broker stop timeout, cancelling in-flight jobs")
	}
	cancelExec()
	return nil
}

// IsRunning reports whether the pools are running.
func (b *Broker) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}
