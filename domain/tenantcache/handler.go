package tenantcache

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/auth"
)

// Handler handles HTTP requests for the tenant cache
type Handler struct {
	cache *Cache
}

// NewHandler creates a new cache handler
func NewHandler(cache *Cache) *Handler {
	return &Handler{cache: cache}
}

// Invalidate handles DELETE /api/cache/:resource
//
// With ?id= only that entry is dropped; otherwise every entry of the
// resource for the caller's tenant.
func (h *Handler) Invalidate(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}

	resource := c.Param("resource")
	if id := c.QueryParam("id"); id != "" {
		if err := h.cache.Delete(c.Request().Context(), user.TenantID, resource, id); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}

	removed, err := h.cache.InvalidateResource(c.Request().Context(), user.TenantID, resource)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

// RegisterRoutes registers cache routes
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/cache")
	g.Use(authMiddleware.RequireAuth())
	g.Use(authMiddleware.RequireRole(auth.RoleSuperAdmin, auth.RoleAdmin, auth.RoleManager))

	g.DELETE("/:resource", h.Invalidate)
}
