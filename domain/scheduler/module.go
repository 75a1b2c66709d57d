package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/internal/config"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Broker    *jobs.Broker
	Archive   *jobs.ArchiveRepository `optional:"true"`
	Cfg       *config.Config
	Log       *slog.Logger
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	sc := p.Cfg.Scheduler
	if !sc.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	if err := p.Scheduler.AddCronTask(TaskQueueGauges, sc.QueueGaugesSchedule, QueueGaugesTask(p.Broker)); err != nil {
		p.Log.Error("failed to register queue gauges task", logger.Error(err))
	}

	// Without a database there is nothing archived
	if p.Archive != nil {
		prune := NewArchivePruneTask(p.Archive, p.Cfg.Jobs.ArchiveRetention, p.Log)
		if err := p.Scheduler.AddCronTask(TaskArchivePrune, sc.ArchivePruneSchedule, prune.Run); err != nil {
			p.Log.Error("failed to register archive prune task", logger.Error(err))
		}
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
