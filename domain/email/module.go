package email

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/internal/config"
)

// Module provides the email queue
var Module = fx.Module("email",
	fx.Provide(
		NewTemplates,
		NewSender, // Uses Mailgun when configured, otherwise logs
		NewWorkerFromConfig,
	),
	fx.Invoke(RegisterQueue),
)

// NewSender creates the appropriate email sender based on configuration.
func NewSender(cfg *config.Config, log *slog.Logger) Sender {
	if cfg.Email.Enabled {
		if mg := NewMailgunSender(cfg.Email, log); mg != nil {
			log.Info("using Mailgun sender",
				slog.String("domain", cfg.Email.MailgunDomain),
				slog.String("from", cfg.Email.FromEmail))
			return mg
		}
	}

	log.Info("using log-only email sender (Mailgun not configured or email disabled)")
	return NewLogSender(log)
}

// NewWorkerFromConfig creates the worker using the configured sender name
func NewWorkerFromConfig(sender Sender, templates *Templates, cfg *config.Config, log *slog.Logger) *Worker {
	return NewWorker(sender, templates, cfg.Email.FromName, log)
}

// RegisterQueue binds the email queue to the broker
func RegisterQueue(b *jobs.Broker, topology jobs.Topology, w *Worker) error {
	return b.RegisterQueue(topology.Queue(jobs.QueueEmail), w.Mux())
}
