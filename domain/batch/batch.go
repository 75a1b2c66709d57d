// Package batch runs the throttled batch queue: CSV report exports uploaded
// to object storage and bulk status updates fanned out as entity events.
package batch

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/internal/storage"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Job kinds accepted by the batch queue
const (
	KindReportExport     jobs.Kind = "report_export"
	KindBulkStatusUpdate jobs.Kind = "bulk_status_update"
)

// downloadExpiry is how long an export link stays valid
const downloadExpiry = 24 * time.Hour

// Uploader stores export files
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, size int64, opts storage.UploadOptions) (*storage.UploadResult, error)
	SignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// EntityEmitter publishes entity domain events
type EntityEmitter interface {
	Emit(ctx context.Context, ev realtime.EntityEvent) error
}

// ResourceInvalidator drops every cached entry of a tenant resource
type ResourceInvalidator interface {
	InvalidateResource(ctx context.Context, tenantID, resource string) (int, error)
}

// StatusUpdater persists a status change of one entity. Business entities
// live outside this service, so the updater is supplied by the embedding app.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, tenantID, entityType, entityID, status string) error
}

// Worker executes batch jobs
type Worker struct {
	uploader Uploader
	emitter  EntityEmitter
	cache    ResourceInvalidator
	updater  StatusUpdater
	now      func() time.Time
	log      *slog.Logger
}

// Option configures a Worker
type Option func(*Worker)

// WithStatusUpdater persists bulk status changes before they are announced
func WithStatusUpdater(u StatusUpdater) Option {
	return func(w *Worker) { w.updater = u }
}

// NewWorker creates the batch job handlers
func NewWorker(uploader Uploader, emitter EntityEmitter, cache ResourceInvalidator, log *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		uploader: uploader,
		emitter:  emitter,
		cache:    cache,
		now:      time.Now,
		log:      log.With(logger.Scope("batch.worker")),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Mux binds the batch kinds to their handlers
func (w *Worker) Mux() *jobs.Mux {
	return jobs.NewMux(KindReportExport, KindBulkStatusUpdate).
		Handle(KindReportExport, w.handleReportExport).
		Handle(KindBulkStatusUpdate, w.handleBulkStatusUpdate)
}
