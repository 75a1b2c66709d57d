package health

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emergent-company/pilgrimops/pkg/auth"
)

// RegisterRoutes registers health check routes
func RegisterRoutes(e *echo.Echo, h *Handler, m *MetricsHandler, authMiddleware *auth.Middleware) {
	e.GET("/health", h.Health)
	e.GET("/healthz", h.Healthz)
	e.GET("/ready", h.Ready)
	e.GET("/debug", h.Debug)
	e.GET("/api/health", h.Health)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api/metrics")
	g.Use(authMiddleware.RequireAuth())
	g.Use(authMiddleware.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin))
	g.GET("/jobs", m.JobMetrics)
	g.GET("/scheduler", m.SchedulerMetrics)
}
