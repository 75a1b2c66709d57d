package documents

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/domain/tenantcache"
)

// Module provides the documents queue
var Module = fx.Module("documents",
	fx.Provide(func(em *realtime.Emitter, cache *tenantcache.Cache, log *slog.Logger) *Worker {
		return NewWorker(em, cache, log)
	}),
	fx.Invoke(RegisterQueue),
)

// RegisterQueue binds the documents queue to the broker
func RegisterQueue(b *jobs.Broker, topology jobs.Topology, w *Worker) error {
	return b.RegisterQueue(topology.Queue(jobs.QueueDocuments), w.Mux())
}
