package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// ArchivedJob is a terminal job persisted for auditing once it leaves the
// in-memory retention window.
type ArchivedJob struct {
	bun.BaseModel `bun:"table:ops.job_archive,alias:ja"`

	ID         string          `bun:"id,pk,type:uuid" json:"id"`
	Queue      string          `bun:"queue,notnull" json:"queue"`
	Kind       string          `bun:"kind,notnull" json:"kind"`
	TenantID   string          `bun:"tenant_id,notnull" json:"tenantId"`
	UserID     *string         `bun:"user_id" json:"userId,omitempty"`
	State      string          `bun:"state,notnull" json:"state"`
	Attempts   int             `bun:"attempts,notnull" json:"attempts"`
	Payload    json.RawMessage `bun:"payload,type:jsonb" json:"payload,omitempty"`
	Result     json.RawMessage `bun:"result,type:jsonb" json:"result,omitempty"`
	LastError  *string         `bun:"last_error" json:"lastError,omitempty"`
	CreatedAt  time.Time       `bun:"created_at,notnull" json:"createdAt"`
	FinishedAt time.Time       `bun:"finished_at,notnull" json:"finishedAt"`
}

// ArchiveRepository writes terminal jobs to ops.job_archive.
type ArchiveRepository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewArchiveRepository creates an archive repository.
func NewArchiveRepository(db bun.IDB, log *slog.Logger) *ArchiveRepository {
	return &ArchiveRepository{
		db:  db,
		log: log.With(logger.Scope("jobs.archive")),
	}
}

func toArchived(job Job) (*ArchivedJob, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	row := &ArchivedJob{
		ID:        job.ID,
		Queue:     job.Queue,
		Kind:      string(job.Kind),
		TenantID:  job.TenantID(),
		State:     string(job.State),
		Attempts:  job.Attempt,
		Payload:   payload,
		CreatedAt: job.CreatedAt,
	}
	if job.UserID() != "" {
		uid := job.UserID()
		row.UserID = &uid
	}
	if job.Result != nil {
		result, err := json.Marshal(job.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		row.Result = result
	}
	if job.Error != "" {
		msg := job.Error
		row.LastError = &msg
	}
	if job.FinishedAt != nil {
		row.FinishedAt = *job.FinishedAt
	} else {
		row.FinishedAt = time.Now()
	}
	return row, nil
}

// Archive upserts a terminal job. A retried job that finishes again replaces its row.
func (r *ArchiveRepository) Archive(ctx context.Context, job Job) error {
	row, err := toArchived(job)
	if err != nil {
		return err
	}

	_, err = r.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("attempts = EXCLUDED.attempts").
		Set("result = EXCLUDED.result").
		Set("last_error = EXCLUDED.last_error").
		Set("finished_at = EXCLUDED.finished_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", job.ID, err)
	}
	return nil
}

// Prune deletes archived jobs that finished before cutoff and returns how many were removed.
func (r *ArchiveRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*ArchivedJob)(nil)).
		Where("finished_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune job archive: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info("pruned job archive", slog.Int64("rows", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// ListByTenant returns the most recent archived jobs of a tenant, newest first.
func (r *ArchiveRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]ArchivedJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var rows []ArchivedJob
	err := r.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		OrderExpr("finished_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archived jobs: %w", err)
	}
	return rows, nil
}
