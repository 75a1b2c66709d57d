package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Task names
const (
	TaskQueueGauges  = "queue_gauges"
	TaskArchivePrune = "archive_prune"
)

// GaugeRefresher republishes per-queue state gauges
type GaugeRefresher interface {
	RefreshGauges()
}

// QueueGaugesTask keeps the queue depth gauges current between job transitions
func QueueGaugesTask(r GaugeRefresher) TaskFunc {
	return func(ctx context.Context) error {
		r.RefreshGauges()
		return ctx.Err()
	}
}

// ArchivePruner deletes archived jobs older than a cutoff
type ArchivePruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// ArchivePruneTask removes archived jobs that finished more than retention ago
type ArchivePruneTask struct {
	archive   ArchivePruner
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// NewArchivePruneTask creates the archive prune task
func NewArchivePruneTask(archive ArchivePruner, retention time.Duration, log *slog.Logger) *ArchivePruneTask {
	return &ArchivePruneTask{
		archive:   archive,
		retention: retention,
		now:       time.Now,
		log:       log.With(logger.Scope("scheduler.archive_prune")),
	}
}

// Run executes the prune
func (t *ArchivePruneTask) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := t.now().Add(-t.retention)

	n, err := t.archive.Prune(ctx, cutoff)
	if err != nil {
		return err
	}

	if n > 0 {
		t.log.Info("pruned job archive",
			slog.Int64("deleted", n),
			slog.Time("cutoff", cutoff),
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

var (
	_ GaugeRefresher = (*jobs.Broker)(nil)
	_ ArchivePruner  = (*jobs.ArchiveRepository)(nil)
)
