package apperror

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHandler(t *testing.T, method string, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorHandler(slog.Default())(err, c)

	if method == http.MethodHead {
		return rec, nil
	}
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp["error"].(map[string]any)
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	rec, body := runHandler(t, http.MethodGet, NewBadRequest("invalid input"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["code"])
	assert.Equal(t, "invalid input", body["message"])
}

func TestHTTPErrorHandler_WrappedAppErrorWithDetails(t *testing.T) {
	err := fmt.Errorf("subscribe: %w",
		ErrPermissionDenied.WithDetails(map[string]any{"eventType": "cache.invalidated"}))

	rec, body := runHandler(t, http.MethodGet, err)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "permission_denied", body["code"])
	assert.Equal(t, map[string]any{"eventType": "cache.invalidated"}, body["details"])
}

func TestHTTPErrorHandler_EchoError_StatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		wantCode string
	}{
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusForbidden, "forbidden"},
		{http.StatusNotFound, "not_found"},
		{http.StatusBadRequest, "bad_request"},
		{http.StatusConflict, "conflict"},
		{http.StatusUnprocessableEntity, "validation_error"},
		{http.StatusTooManyRequests, "rate_limited"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec, body := runHandler(t, http.MethodGet, echo.NewHTTPError(tt.status, "msg"))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.Equal(t, "msg", body["message"])
		})
	}
}

func TestHTTPErrorHandler_StructuredMessage(t *testing.T) {
	rec, body := runHandler(t, http.MethodGet, ErrUnknownQueue.ToEchoError())

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_queue", body["code"])
}

func TestHTTPErrorHandler_UnknownError(t *testing.T) {
	rec, body := runHandler(t, http.MethodGet, fmt.Errorf("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", body["code"])
}

func TestHTTPErrorHandler_HeadRequest(t *testing.T) {
	rec, _ := runHandler(t, http.MethodHead, ErrNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHTTPErrorHandler_CommittedResponse(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, c.String(http.StatusOK, "done"))

	HTTPErrorHandler(slog.Default())(ErrInternal, c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Body.String())
}
