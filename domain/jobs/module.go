package jobs

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/internal/config"
)

// Module provides the broker, the job archive and the jobs API.
// Queues are registered by the packages that own their handlers.
var Module = fx.Module("jobs",
	fx.Provide(
		NewTopologyFromConfig,
		NewArchiveFromConfig,
		NewBrokerFromConfig,
		NewHandlerFromParams,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterBrokerLifecycle),
)

// NewTopologyFromConfig loads the queue topology, overlaying JOBS_QUEUES_FILE when set.
func NewTopologyFromConfig(cfg *config.Config) (Topology, error) {
	return LoadTopology(cfg.Jobs.QueuesFile)
}

// ArchiveParams for NewArchiveFromConfig
type ArchiveParams struct {
	fx.In
	DB  *bun.DB `optional:"true"`
	Log *slog.Logger
}

// NewArchiveFromConfig returns the archive repository, or nil without a database.
func NewArchiveFromConfig(p ArchiveParams) *ArchiveRepository {
	if p.DB == nil {
		return nil
	}
	return NewArchiveRepository(p.DB, p.Log)
}

// BrokerParams for NewBrokerFromConfig
type BrokerParams struct {
	fx.In
	Cfg      *config.Config
	Log      *slog.Logger
	Notifier Notifier           `optional:"true"`
	Archive  *ArchiveRepository `optional:"true"`
}

// NewBrokerFromConfig creates the broker with the configured defaults.
func NewBrokerFromConfig(p BrokerParams) *Broker {
	jc := p.Cfg.Jobs
	opts := []BrokerOption{
		WithDefaults(Options{
			Attempts:         jc.DefaultAttempts,
			Backoff:          &BackoffPolicy{Type: BackoffExponential, Delay: jc.BackoffDelay},
			RemoveOnComplete: jc.KeepCompleted,
			RemoveOnFail:     jc.KeepFailed,
		}),
		WithProgressInterval(jc.ProgressInterval),
		WithNotifier(p.Notifier),
	}
	if p.Archive != nil {
		opts = append(opts, WithArchiver(p.Archive))
	}
	return NewBroker(p.Log, opts...)
}

// HandlerParams for NewHandlerFromParams
type HandlerParams struct {
	fx.In
	Broker  *Broker
	Archive *ArchiveRepository `optional:"true"`
}

// NewHandlerFromParams creates the jobs handler, listing the archive when one exists.
func NewHandlerFromParams(p HandlerParams) *Handler {
	if p.Archive == nil {
		return NewHandler(p.Broker, nil)
	}
	return NewHandler(p.Broker, p.Archive)
}

// RegisterBrokerLifecycle starts and stops the queue pools with the app
func RegisterBrokerLifecycle(lc fx.Lifecycle, b *Broker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return b.Stop(ctx)
		},
	})
}
