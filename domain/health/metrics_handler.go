package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/scheduler"
)

// MetricsHandler serves queue and scheduler snapshots for operators
type MetricsHandler struct {
	broker    *jobs.Broker
	scheduler *scheduler.Scheduler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(broker *jobs.Broker, s *scheduler.Scheduler) *MetricsHandler {
	return &MetricsHandler{broker: broker, scheduler: s}
}

// JobQueueMetrics represents metrics for a single job queue
type JobQueueMetrics struct {
	Queue       string `json:"queue"`
	Concurrency int    `json:"concurrency"`
	jobs.Metrics
}

// AllJobMetrics contains metrics for all job queues
type AllJobMetrics struct {
	Queues    []JobQueueMetrics `json:"queues"`
	Timestamp string            `json:"timestamp"`
}

// JobMetrics returns state counts for every registered queue
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	infos := h.broker.Queues()
	all := make([]JobQueueMetrics, 0, len(infos))
	for _, q := range infos {
		m, err := h.broker.Metrics(ctx, q.Name)
		if err != nil {
			continue
		}
		all = append(all, JobQueueMetrics{Queue: q.Name, Concurrency: q.Concurrency, Metrics: m})
	}

	return c.JSON(http.StatusOK, AllJobMetrics{
		Queues:    all,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SchedulerMetrics returns the scheduled tasks and their next runs
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"running": h.scheduler.IsRunning(),
		"tasks":   h.scheduler.GetTaskInfo(),
	})
}
