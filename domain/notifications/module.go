package notifications

import (
	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
)

// Module provides the notifications queue
var Module = fx.Module("notifications",
	fx.Provide(
		func(em *realtime.Emitter) Notifier { return em },
		NewWorker,
	),
	fx.Invoke(RegisterQueue),
)

// RegisterQueue binds the notifications queue to the broker
func RegisterQueue(b *jobs.Broker, topology jobs.Topology, w *Worker) error {
	return b.RegisterQueue(topology.Queue(jobs.QueueNotifications), w.Mux())
}
