package auth

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Module provides the authenticator and the echo middleware.
var Module = fx.Module("auth",
	fx.Provide(
		NewAuthenticator,
		NewMiddleware,
	),
)

// ContextKey for storing the identity in the echo context
type contextKey string

const UserContextKey contextKey = "auth_user"

// GetUser retrieves the authenticated identity from the Echo context
func GetUser(c echo.Context) *Identity {
	if user, ok := c.Get(string(UserContextKey)).(*Identity); ok {
		return user
	}
	return nil
}

// SetUser stores the identity in the Echo context
func SetUser(c echo.Context, id *Identity) {
	c.Set(string(UserContextKey), id)
}

// Middleware authenticates HTTP requests.
type Middleware struct {
	authn Authenticator
	log   *slog.Logger
}

// NewMiddleware creates the auth middleware.
func NewMiddleware(authn Authenticator, log *slog.Logger) *Middleware {
	return &Middleware{
		authn: authn,
		log:   log.With(logger.Scope("auth")),
	}
}

// RequireAuth returns middleware that requires authentication
func (m *Middleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := m.Authenticate(c.Request())
			if err != nil {
				m.log.Warn("authentication failed", logger.Error(err))
				return err
			}
			SetUser(c, user)
			return next(c)
		}
	}
}

// RequireRole returns middleware that admits only the given roles
func (m *Middleware) RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetUser(c)
			if user == nil {
				return apperror.ErrUnauthenticated
			}
			if !slices.Contains(roles, user.Role) {
				return apperror.ErrPermissionDenied.WithDetails(map[string]any{
					"role": string(user.Role),
				})
			}
			return next(c)
		}
	}
}

// Authenticate resolves the identity behind a request. The realtime gateway
// calls it before upgrading, so a failed handshake never reaches room logic.
func (m *Middleware) Authenticate(r *http.Request) (*Identity, error) {
	token := ExtractToken(r)
	if token == "" {
		return nil, apperror.ErrUnauthenticated.WithMessage("missing bearer token")
	}
	return m.authn.Authenticate(r.Context(), token)
}

// ExtractToken extracts the bearer token from the Authorization header, falling
// back to the token query parameter (browsers cannot set headers on WebSocket
// and EventSource requests).
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return ""
}
