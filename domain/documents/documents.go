// Package documents runs the documents queue, which announces review
// decisions and uploads of pilgrim documents (passports, visas, contracts).
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Job kinds accepted by the documents queue
const (
	KindReview   jobs.Kind = "review"
	KindUploaded jobs.Kind = "uploaded"
)

// Review decisions
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// cacheResource holds cached document views
const cacheResource = "documents"

// Review is the payload of a review job
type Review struct {
	DocumentID string `json:"documentId"`
	PilgrimID  string `json:"pilgrimId,omitempty"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
}

// Uploaded is the payload of an uploaded job
type Uploaded struct {
	DocumentID string `json:"documentId"`
	PilgrimID  string `json:"pilgrimId,omitempty"`
	Kind       string `json:"kind"`
	FileName   string `json:"fileName"`
}

// EntityEmitter publishes entity domain events
type EntityEmitter interface {
	Emit(ctx context.Context, ev realtime.EntityEvent) error
}

// EntryDeleter drops one cached entry
type EntryDeleter interface {
	Delete(ctx context.Context, tenantID, resource, id string) error
}

// Worker executes document jobs
type Worker struct {
	emitter EntityEmitter
	cache   EntryDeleter
	log     *slog.Logger
}

// NewWorker creates the document job handlers
func NewWorker(emitter EntityEmitter, cache EntryDeleter, log *slog.Logger) *Worker {
	return &Worker{
		emitter: emitter,
		cache:   cache,
		log:     log.With(logger.Scope("documents.worker")),
	}
}

// Mux binds the document kinds to their handlers
func (w *Worker) Mux() *jobs.Mux {
	return jobs.NewMux(KindReview, KindUploaded).
		Handle(KindReview, w.handleReview).
		Handle(KindUploaded, w.handleUploaded)
}

func (w *Worker) handleReview(ctx context.Context, job jobs.Job, _ jobs.ProgressFunc) (any, error) {
	var req Review
	if err := job.Payload.Decode(&req); err != nil {
		return nil, err
	}
	if req.DocumentID == "" {
		return nil, errors.New("documentId is required")
	}

	var eventType realtime.EventType
	switch req.Decision {
	case DecisionApproved:
		eventType = realtime.EventDocumentApproved
	case DecisionRejected:
		if req.Reason == "" {
			return nil, errors.New("a rejection needs a reason")
		}
		eventType = realtime.EventDocumentRejected
	default:
		return nil, fmt.Errorf("unknown review decision %q", req.Decision)
	}

	if err := w.cache.Delete(ctx, job.TenantID(), cacheResource, req.DocumentID); err != nil {
		w.log.Warn("document cache delete failed",
			slog.String("document_id", req.DocumentID),
			logger.Error(err))
	}

	err := w.emitter.Emit(ctx, realtime.EntityEvent{
		Type:     eventType,
		TenantID: job.TenantID(),
		EntityID: req.DocumentID,
		ActorID:  job.UserID(),
		Data:     req,
	})
	if err != nil {
		return nil, fmt.Errorf("publish review decision: %w", err)
	}
	return map[string]string{"documentId": req.DocumentID, "decision": req.Decision}, nil
}

func (w *Worker) handleUploaded(ctx context.Context, job jobs.Job, _ jobs.ProgressFunc) (any, error) {
	var req Uploaded
	if err := job.Payload.Decode(&req); err != nil {
		return nil, err
	}
	if req.DocumentID == "" {
		return nil, errors.New("documentId is required")
	}

	err := w.emitter.Emit(ctx, realtime.EntityEvent{
		Type:     realtime.EventDocumentUploaded,
		TenantID: job.TenantID(),
		EntityID: req.DocumentID,
		ActorID:  job.UserID(),
		Data:     req,
	})
	if err != nil {
		return nil, fmt.Errorf("publish upload: %w", err)
	}
	return map[string]string{"documentId": req.DocumentID}, nil
}
