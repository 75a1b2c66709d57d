package jobs

import (
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/pilgrimops/pkg/auth"
)

// RegisterRoutes registers job routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/jobs")
	g.Use(authMiddleware.RequireAuth())

	// Queue-wide views span tenants, so they are admin only
	admin := authMiddleware.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin)
	g.GET("/queues", h.Queues, admin)
	g.GET("/:queue/metrics", h.Metrics, admin)

	g.GET("/archive", h.Archive)
	g.POST("/:queue", h.Submit)
	g.GET("/:queue/:id", h.Get)
	g.DELETE("/:queue/:id", h.Cancel)
	g.POST("/:queue/:id/retry", h.Retry)
}
