package health

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/internal/config"
	"github.com/emergent-company/pilgrimops/pkg/syshealth"
)

var Module = fx.Module("health",
	fx.Provide(
		NewMonitorFromConfig,
		NewHandler,
		NewMetricsHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// MonitorParams for NewMonitorFromConfig
type MonitorParams struct {
	fx.In
	LC   fx.Lifecycle
	Cfg  *config.Config
	Pool *pgxpool.Pool `optional:"true"`
	Log  *slog.Logger
}

// NewMonitorFromConfig starts the host monitor, or returns nil when disabled.
func NewMonitorFromConfig(p MonitorParams) syshealth.Monitor {
	if !p.Cfg.Health.MonitorEnabled {
		return nil
	}

	cfg := syshealth.DefaultConfig()
	cfg.CollectionInterval = p.Cfg.Health.MonitorInterval

	var usage syshealth.PoolUsage
	if p.Pool != nil {
		usage = func() float64 {
			stat := p.Pool.Stat()
			if stat.MaxConns() == 0 {
				return 0
			}
			return float64(stat.AcquiredConns()) / float64(stat.MaxConns()) * 100.0
		}
	}

	m := syshealth.NewMonitor(cfg, usage, p.Log)
	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error { return m.Start() },
		OnStop:  func(context.Context) error { return m.Stop() },
	})
	return m
}
