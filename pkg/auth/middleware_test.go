package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/pilgrimops/internal/config"
	"github.com/emergent-company/pilgrimops/pkg/apperror"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		query      string
		want       string
	}{
		{name: "bearer header", authHeader: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "non-bearer header", authHeader: "Basic dXNlcjpwYXNz", want: ""},
		{name: "query fallback", query: "token=from-query", want: "from-query"},
		{name: "header wins", authHeader: "Bearer from-header", query: "token=from-query", want: "from-header"},
		{name: "nothing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			if tt.authHeader != "" {
				r.Header.Set("Authorization", tt.authHeader)
			}
			assert.Equal(t, tt.want, ExtractToken(r))
		})
	}
}

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	a := NewJWTAuthenticator("secret", "pilgrimops", time.Second)
	token, err := a.Issue(Identity{UserID: "u1", TenantID: "t1", Role: RoleAgent, Email: "a@example.com"}, time.Minute)
	require.NoError(t, err)

	id, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "u1", TenantID: "t1", Role: RoleAgent, Email: "a@example.com"}, id)
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	a := NewJWTAuthenticator("secret", "", 0)
	other := NewJWTAuthenticator("other-secret", "", 0)

	expired, err := a.Issue(Identity{UserID: "u1", TenantID: "t1", Role: RoleAdmin}, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := other.Issue(Identity{UserID: "u1", TenantID: "t1", Role: RoleAdmin}, time.Minute)
	require.NoError(t, err)
	noTenant, err := a.Issue(Identity{UserID: "u1", Role: RoleAdmin}, time.Minute)
	require.NoError(t, err)
	badRole, err := a.Issue(Identity{UserID: "u1", TenantID: "t1", Role: "janitor"}, time.Minute)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TenantID: "t1", Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  *apperror.Error
	}{
		{"empty", "", apperror.ErrUnauthenticated},
		{"garbage", "not-a-jwt", apperror.ErrInvalidToken},
		{"expired", expired, apperror.ErrInvalidToken},
		{"wrong key", wrongKey, apperror.ErrInvalidToken},
		{"alg none", unsigned, apperror.ErrInvalidToken},
		{"no tenant", noTenant, apperror.ErrUnauthenticated},
		{"unknown role", badRole, apperror.ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.token)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestNewAuthenticator_RequiresSecretInProduction(t *testing.T) {
	_, err := NewAuthenticator(&config.Config{Environment: "production"}, slog.Default())
	assert.Error(t, err)

	a, err := NewAuthenticator(&config.Config{Environment: "local"}, slog.Default())
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestMiddleware_RequireAuthAndRole(t *testing.T) {
	a := NewJWTAuthenticator("secret", "", 0)
	m := NewMiddleware(a, slog.Default())

	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(slog.Default())
	e.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, GetUser(c))
	}, m.RequireAuth())
	e.GET("/admin", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, m.RequireAuth(), m.RequireRole(RoleAdmin, RoleSuperAdmin))

	agentToken, err := a.Issue(Identity{UserID: "u1", TenantID: "t1", Role: RoleAgent}, time.Minute)
	require.NoError(t, err)

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)

	rec := do("/me", agentToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tenantId":"t1"`)

	rec = do("/admin", agentToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "permission_denied")
}

func TestRole(t *testing.T) {
	assert.True(t, RoleAdmin.Administrative())
	assert.True(t, RoleSuperAdmin.Administrative())
	assert.False(t, RoleManager.Administrative())
	assert.False(t, RoleAgent.Administrative())
	assert.True(t, RoleStaff.Valid())
	assert.False(t, Role("").Valid())
}
