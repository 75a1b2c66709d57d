package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Emitter builds typed events for each domain concern and chooses between
// tenant-wide and user-targeted delivery.
type Emitter struct {
	b   *Broadcaster
	log *slog.Logger
}

// NewEmitter creates an emitter over b.
func NewEmitter(b *Broadcaster, log *slog.Logger) *Emitter {
	return &Emitter{b: b, log: log.With(logger.Scope("realtime.emitter"))}
}

// JobEventData is the data of job.* events.
type JobEventData struct {
	JobID       string     `json:"jobId"`
	Queue       string     `json:"queue"`
	Kind        jobs.Kind  `json:"kind"`
	State       jobs.State `json:"state"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"maxAttempts"`
	Progress    int        `json:"progress"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// CacheInvalidatedData is the data of cache.invalidated events.
type CacheInvalidatedData struct {
	Resource string `json:"resource"`
	ID       string `json:"id,omitempty"`
	// Pattern is set when every key of the resource was dropped
	Pattern bool `json:"pattern,omitempty"`
}

// Notification is the data of notification events.
type Notification struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
	Link     string `json:"link,omitempty"`
}

// send delivers to userID when set, otherwise to the whole tenant.
func (em *Emitter) send(ctx context.Context, userID string, e Event) error {
	if userID != "" {
		return em.b.PublishToUser(ctx, userID, e.TenantID, e)
	}
	return em.b.Publish(ctx, e)
}

func (em *Emitter) emitJob(ctx context.Context, t EventType, job jobs.Job) {
	e := Event{
		Type:     t,
		TenantID: job.TenantID(),
		EntityID: job.ID,
		Data: JobEventData{
			JobID:       job.ID,
			Queue:       job.Queue,
			Kind:        job.Kind,
			State:       job.State,
			Attempt:     job.Attempt,
			MaxAttempts: job.MaxAttempts,
			Progress:    job.Progress,
			Result:      job.Result,
			Error:       job.Error,
		},
		ActorID: job.UserID(),
	}
	if err := em.send(ctx, job.UserID(), e); err != nil {
		em.log.Warn("failed to emit job event",
			slog.String("job_id", job.ID),
			slog.String("event_type", string(t)),
			logger.Error(err),
		)
	}
}

// JobCompleted emits job.completed.
func (em *Emitter) JobCompleted(ctx context.Context, job jobs.Job) {
	em.emitJob(ctx, EventJobCompleted, job)
}

// JobFailed emits job.failed once attempts are exhausted.
func (em *Emitter) JobFailed(ctx context.Context, job jobs.Job) {
	em.emitJob(ctx, EventJobFailed, job)
}

// JobProgress emits job.progress.
func (em *Emitter) JobProgress(ctx context.Context, job jobs.Job) {
	em.emitJob(ctx, EventJobProgress, job)
}

// CacheInvalidated tells the tenant a cached resource changed. An empty id
// with pattern set means every key of the resource.
func (em *Emitter) CacheInvalidated(ctx context.Context, tenantID, resource, id string, pattern bool) error {
	return em.b.Publish(ctx, Event{
		Type:     EventCacheInvalidated,
		TenantID: tenantID,
		EntityID: id,
		Data:     CacheInvalidatedData{Resource: resource, ID: id, Pattern: pattern},
	})
}

// Notify sends a generic notification to one user, or the tenant when
// userID is empty.
func (em *Emitter) Notify(ctx context.Context, tenantID, userID string, n Notification) error {
	return em.send(ctx, userID, Event{
		Type:     EventNotification,
		TenantID: tenantID,
		Data:     n,
	})
}

// EntityEvent publishes a domain event about one entity.
type EntityEvent struct {
	Type     EventType
	TenantID string
	EntityID string
	ActorID  string
	// UserID targets a single user instead of the tenant
	UserID   string
	Data     any
	Metadata map[string]any
}

// Emit publishes an entity domain event.
func (em *Emitter) Emit(ctx context.Context, ev EntityEvent) error {
	return em.send(ctx, ev.UserID, Event{
		Type:      ev.Type,
		TenantID:  ev.TenantID,
		EntityID:  ev.EntityID,
		Data:      ev.Data,
		Timestamp: time.Now().UTC(),
		ActorID:   ev.ActorID,
		Metadata:  ev.Metadata,
	})
}
