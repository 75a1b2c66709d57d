package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/domain/scheduler"
	"github.com/emergent-company/pilgrimops/internal/config"
	"github.com/emergent-company/pilgrimops/internal/version"
	"github.com/emergent-company/pilgrimops/pkg/syshealth"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDegraded  = "degraded"
	statusDisabled  = "disabled"

	probeTimeout = 5 * time.Second
)

// Pinger is satisfied by the postgres pool and the redis client adapter
type Pinger interface {
	Ping(ctx context.Context) error
}

type redisPinger struct{ client *redis.Client }

func (r redisPinger) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// HandlerParams for NewHandler
type HandlerParams struct {
	fx.In
	Cfg       *config.Config
	Broker    *jobs.Broker
	Registry  *realtime.Registry
	Scheduler *scheduler.Scheduler
	Pool      *pgxpool.Pool     `optional:"true"`
	Redis     *redis.Client     `optional:"true"`
	Monitor   syshealth.Monitor `optional:"true"`
}

// Handler handles health check requests
type Handler struct {
	cfg       *config.Config
	db        Pinger
	redis     Pinger
	pool      *pgxpool.Pool
	monitor   syshealth.Monitor
	broker    *jobs.Broker
	registry  *realtime.Registry
	scheduler *scheduler.Scheduler
	startAt   time.Time
}

// NewHandler creates a new health handler
func NewHandler(p HandlerParams) *Handler {
	h := &Handler{
		cfg:       p.Cfg,
		pool:      p.Pool,
		monitor:   p.Monitor,
		broker:    p.Broker,
		registry:  p.Registry,
		scheduler: p.Scheduler,
		startAt:   time.Now(),
	}
	if p.Pool != nil {
		h.db = p.Pool
	}
	if p.Redis != nil {
		h.redis = redisPinger{client: p.Redis}
	}
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func probe(ctx context.Context, p Pinger) Check {
	if p == nil {
		return Check{Status: statusDisabled}
	}
	if err := p.Ping(ctx); err != nil {
		return Check{Status: statusUnhealthy, Message: err.Error()}
	}
	return Check{Status: statusHealthy}
}

func (h *Handler) systemCheck() Check {
	if h.monitor == nil {
		return Check{Status: statusDisabled}
	}
	m := h.monitor.GetHealth()
	switch {
	case m.Stale:
		return Check{Status: statusDegraded, Message: "host metrics are stale"}
	case m.Zone == syshealth.HealthZoneCritical:
		return Check{Status: statusDegraded, Message: "host under critical pressure"}
	}
	return Check{Status: statusHealthy, Message: string(m.Zone)}
}

// Health returns the overall service health. Only unreachable dependencies
// make it unhealthy; host pressure and a stopped broker degrade it.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	checks := map[string]Check{
		"database": probe(ctx, h.db),
		"redis":    probe(ctx, h.redis),
		"system":   h.systemCheck(),
		"jobs":     {Status: statusHealthy},
	}
	if !h.broker.IsRunning() {
		checks["jobs"] = Check{Status: statusDegraded, Message: "broker is not running"}
	}

	overall := statusHealthy
	for _, check := range checks {
		if check.Status == statusUnhealthy {
			overall = statusUnhealthy
			break
		}
		if check.Status == statusDegraded {
			overall = statusDegraded
		}
	}

	response := HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if overall == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, response)
}

// Healthz returns a simple liveness check
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready reports whether the broker is accepting work and dependencies respond
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	if !h.broker.IsRunning() {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "Job broker is not running",
		})
	}
	for name, p := range map[string]Pinger{"Database": h.db, "Redis": h.redis} {
		if probe(ctx, p).Status == statusUnhealthy {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":  "not_ready",
				"message": name + " connection failed",
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Debug returns runtime, queue and connection details outside production
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.Environment == "production" {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	out := map[string]any{
		"environment": h.cfg.Environment,
		"debug":       h.cfg.Debug,
		"version":     version.Info(),
		"go_version":  runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc_mb":       mem.Alloc / 1024 / 1024,
			"total_alloc_mb": mem.TotalAlloc / 1024 / 1024,
			"sys_mb":         mem.Sys / 1024 / 1024,
			"num_gc":         mem.NumGC,
		},
		"realtime": map[string]any{
			"connections": h.registry.Count(),
		},
		"queues":    h.broker.Queues(),
		"scheduler": h.scheduler.GetTaskInfo(),
	}
	if h.monitor != nil {
		out["system"] = h.monitor.GetHealth()
	}
	if h.pool != nil {
		stat := h.pool.Stat()
		out["database"] = map[string]any{
			"host":        h.cfg.Database.Host,
			"database":    h.cfg.Database.Database,
			"pool_total":  stat.TotalConns(),
			"pool_idle":   stat.IdleConns(),
			"pool_in_use": stat.AcquiredConns(),
			"pool_max":    stat.MaxConns(),
		}
	}

	return c.JSON(http.StatusOK, out)
}
