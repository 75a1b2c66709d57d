package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/auth"
)

// ArchiveLister reads archived jobs of a tenant.
type ArchiveLister interface {
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]ArchivedJob, error)
}

// Handler handles HTTP requests for jobs
type Handler struct {
	broker  *Broker
	archive ArchiveLister
}

// NewHandler creates a new jobs handler. archive may be nil.
func NewHandler(broker *Broker, archive ArchiveLister) *Handler {
	return &Handler{broker: broker, archive: archive}
}

// BackoffRequest is the wire form of a backoff policy.
type BackoffRequest struct {
	Type    BackoffType `json:"type"`
	DelayMs int64       `json:"delayMs"`
}

// OptionsRequest is the wire form of Options; durations are milliseconds.
type OptionsRequest struct {
	Attempts         int             `json:"attempts,omitempty"`
	Backoff          *BackoffRequest `json:"backoff,omitempty"`
	DelayMs          int64           `json:"delayMs,omitempty"`
	Priority         int             `json:"priority,omitempty"`
	RemoveOnComplete int             `json:"removeOnComplete,omitempty"`
	RemoveOnFail     int             `json:"removeOnFail,omitempty"`
	TimeoutMs        int64           `json:"timeoutMs,omitempty"`
}

func (r *OptionsRequest) options() Options {
	if r == nil {
		return Options{}
	}
	o := Options{
		Attempts:         r.Attempts,
		Delay:            time.Duration(r.DelayMs) * time.Millisecond,
		Priority:         r.Priority,
		RemoveOnComplete: r.RemoveOnComplete,
		RemoveOnFail:     r.RemoveOnFail,
		Timeout:          time.Duration(r.TimeoutMs) * time.Millisecond,
	}
	if r.Backoff != nil {
		o.Backoff = &BackoffPolicy{
			Type:  r.Backoff.Type,
			Delay: time.Duration(r.Backoff.DelayMs) * time.Millisecond,
		}
	}
	return o
}

// SubmitRequest is the body of POST /api/jobs/:queue
type SubmitRequest struct {
	Kind    Kind            `json:"kind"`
	Data    json.RawMessage `json:"data,omitempty"`
	Options *OptionsRequest `json:"options,omitempty"`
	// Broadcast sends completion events tenant-wide instead of to the submitter
	Broadcast bool `json:"broadcast,omitempty"`
}

// SubmitResponse is returned by Submit
type SubmitResponse struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

// Submit handles POST /api/jobs/:queue
func (h *Handler) Submit(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}

	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.Kind == "" {
		return apperror.NewBadRequest("kind is required")
	}

	payload := Payload{TenantID: user.TenantID, Data: req.Data}
	if !req.Broadcast {
		payload.UserID = user.UserID
	}

	queue := c.Param("queue")
	id, err := h.broker.Submit(c.Request().Context(), queue, req.Kind, payload, req.Options.options())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, SubmitResponse{ID: id, Queue: queue})
}

// tenantJob loads a job and hides jobs of other tenants.
func (h *Handler) tenantJob(c echo.Context, user *auth.Identity) (Job, error) {
	job, err := h.broker.GetStatus(c.Request().Context(), c.Param("queue"), c.Param("id"))
	if err != nil {
		return Job{}, err
	}
	if job.TenantID() != user.TenantID {
		return Job{}, apperror.NewNotFound("job", c.Param("id"))
	}
	return job, nil
}

// Get handles GET /api/jobs/:queue/:id
func (h *Handler) Get(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}

	job, err := h.tenantJob(c, user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// Cancel handles DELETE /api/jobs/:queue/:id
func (h *Handler) Cancel(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}

	if _, err := h.tenantJob(c, user); err != nil {
		return err
	}
	if err := h.broker.Cancel(c.Request().Context(), c.Param("queue"), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Retry handles POST /api/jobs/:queue/:id/retry
func (h *Handler) Retry(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}

	var opts RetryOptions
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&opts); err != nil {
			return apperror.NewBadRequest("invalid request body")
		}
	}

	if _, err := h.tenantJob(c, user); err != nil {
		return err
	}
	if err := h.broker.Retry(c.Request().Context(), c.Param("queue"), c.Param("id"), opts); err != nil {
		return err
	}

	job, err := h.broker.GetStatus(c.Request().Context(), c.Param("queue"), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// Metrics handles GET /api/jobs/:queue/metrics
func (h *Handler) Metrics(c echo.Context) error {
	m, err := h.broker.Metrics(c.Request().Context(), c.Param("queue"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

// Queues handles GET /api/jobs/queues
func (h *Handler) Queues(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"data": h.broker.Queues()})
}

// Archive handles GET /api/jobs/archive
func (h *Handler) Archive(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}
	if h.archive == nil {
		return c.JSON(http.StatusOK, map[string]any{"data": []ArchivedJob{}})
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperror.NewBadRequest("limit must be an integer")
		}
		limit = n
	}

	rows, err := h.archive.ListByTenant(c.Request().Context(), user.TenantID, limit)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": rows})
}
