package batch

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/domain/tenantcache"
	"github.com/emergent-company/pilgrimops/internal/storage"
)

// Module provides the batch queue
var Module = fx.Module("batch",
	fx.Provide(NewWorkerFromParams),
	fx.Invoke(RegisterQueue),
)

// WorkerParams for NewWorkerFromParams
type WorkerParams struct {
	fx.In
	Storage *storage.Service
	Emitter *realtime.Emitter
	Cache   *tenantcache.Cache
	Updater StatusUpdater `optional:"true"`
	Log     *slog.Logger
}

// NewWorkerFromParams wires the worker to storage, the emitter and the cache
func NewWorkerFromParams(p WorkerParams) *Worker {
	var opts []Option
	if p.Updater != nil {
		opts = append(opts, WithStatusUpdater(p.Updater))
	}
	return NewWorker(p.Storage, p.Emitter, p.Cache, p.Log, opts...)
}

// RegisterQueue binds the batch queue to the broker
func RegisterQueue(b *jobs.Broker, topology jobs.Topology, w *Worker) error {
	return b.RegisterQueue(topology.Queue(jobs.QueueBatch), w.Mux())
}
