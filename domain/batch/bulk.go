package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// entityEvents maps bulk-updatable entity types to the event announcing a change
var entityEvents = map[string]realtime.EventType{
	"pilgrim": realtime.EventPilgrimUpdated,
	"lead":    realtime.EventLeadUpdated,
}

// BulkStatusUpdate is the payload of a bulk_status_update job
type BulkStatusUpdate struct {
	EntityType string   `json:"entityType"`
	IDs        []string `json:"ids"`
	Status     string   `json:"status"`
}

// BulkResult is stored as the job result
type BulkResult struct {
	Updated     int `json:"updated"`
	Invalidated int `json:"invalidated"`
}

// cacheResource is the cache resource holding lists of an entity type
func cacheResource(entityType string) string {
	return entityType + "s"
}

func (w *Worker) handleBulkStatusUpdate(ctx context.Context, job jobs.Job, progress jobs.ProgressFunc) (any, error) {
	var req BulkStatusUpdate
	if err := job.Payload.Decode(&req); err != nil {
		return nil, err
	}
	eventType, ok := entityEvents[req.EntityType]
	if !ok {
		return nil, fmt.Errorf("entity type %q does not support bulk status updates", req.EntityType)
	}
	if req.Status == "" {
		return nil, errors.New("status is required")
	}
	ids := slices.DeleteFunc(slices.Compact(slices.Sorted(slices.Values(req.IDs))), func(id string) bool {
		return id == ""
	})
	if len(ids) == 0 {
		return nil, errors.New("no entity ids given")
	}

	tenantID := job.TenantID()
	for i, id := range ids {
		if w.updater != nil {
			if err := w.updater.UpdateStatus(ctx, tenantID, req.EntityType, id, req.Status); err != nil {
				return nil, fmt.Errorf("update %s %s: %w", req.EntityType, id, err)
			}
		}

		err := w.emitter.Emit(ctx, realtime.EntityEvent{
			Type:     eventType,
			TenantID: tenantID,
			EntityID: id,
			ActorID:  job.UserID(),
			Data:     map[string]any{"status": req.Status},
			Metadata: map[string]any{"jobId": job.ID, "bulk": true},
		})
		if err != nil {
			w.log.Warn("bulk update event not published",
				slog.String("entity_id", id),
				logger.Error(err))
		}

		if progress != nil {
			progress((i + 1) * 100 / len(ids))
		}
	}

	removed, err := w.cache.InvalidateResource(ctx, tenantID, cacheResource(req.EntityType))
	if err != nil {
		w.log.Warn("bulk update cache invalidation failed",
			slog.String("tenant_id", tenantID),
			logger.Error(err))
	}

	return BulkResult{Updated: len(ids), Invalidated: removed}, nil
}
