// Package notifications runs the notifications queue: generic in-app
// notifications delivered over the realtime gateway to a tenant or to users.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Job kinds accepted by the notifications queue
const (
	KindTenant jobs.Kind = "tenant"
	KindUser   jobs.Kind = "user"
)

// Severity levels understood by clients
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

var severities = []string{SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError}

// Request is the payload of a notifications job. UserIDs lists the
// recipients of a user job; the submitting user is used when it is empty.
type Request struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity string   `json:"severity,omitempty"`
	Link     string   `json:"link,omitempty"`
	UserIDs  []string `json:"userIds,omitempty"`
}

func (r Request) notification() (realtime.Notification, error) {
	if r.Title == "" && r.Message == "" {
		return realtime.Notification{}, errors.New("notification needs a title or message")
	}
	severity := r.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	if !slices.Contains(severities, severity) {
		return realtime.Notification{}, fmt.Errorf("unknown severity %q", r.Severity)
	}
	return realtime.Notification{Title: r.Title, Message: r.Message, Severity: severity, Link: r.Link}, nil
}

// Result is stored as the job result
type Result struct {
	Delivered int `json:"delivered"`
}

// Notifier publishes a notification to a user, or the tenant when userID is empty
type Notifier interface {
	Notify(ctx context.Context, tenantID, userID string, n realtime.Notification) error
}

// Worker executes notification jobs
type Worker struct {
	notifier Notifier
	log      *slog.Logger
}

// NewWorker creates the notification job handlers
func NewWorker(notifier Notifier, log *slog.Logger) *Worker {
	return &Worker{
		notifier: notifier,
		log:      log.With(logger.Scope("notifications.worker")),
	}
}

// Mux binds the notification kinds to their handlers
func (w *Worker) Mux() *jobs.Mux {
	return jobs.NewMux(KindTenant, KindUser).
		Handle(KindTenant, w.handleTenant).
		Handle(KindUser, w.handleUser)
}

func (w *Worker) handleTenant(ctx context.Context, job jobs.Job, _ jobs.ProgressFunc) (any, error) {
	var req Request
	if err := job.Payload.Decode(&req); err != nil {
		return nil, err
	}
	n, err := req.notification()
	if err != nil {
		return nil, err
	}
	if err := w.notifier.Notify(ctx, job.TenantID(), "", n); err != nil {
		return nil, fmt.Errorf("notify tenant: %w", err)
	}
	return Result{Delivered: 1}, nil
}

func (w *Worker) handleUser(ctx context.Context, job jobs.Job, progress jobs.ProgressFunc) (any, error) {
	var req Request
	if err := job.Payload.Decode(&req); err != nil {
		return nil, err
	}
	n, err := req.notification()
	if err != nil {
		return nil, err
	}

	recipients := slices.DeleteFunc(slices.Compact(slices.Sorted(slices.Values(req.UserIDs))), func(id string) bool {
		return id == ""
	})
	if len(recipients) == 0 && job.UserID() != "" {
		recipients = []string{job.UserID()}
	}
	if len(recipients) == 0 {
		return nil, errors.New("user notification has no recipients")
	}

	for i, userID := range recipients {
		if err := w.notifier.Notify(ctx, job.TenantID(), userID, n); err != nil {
			return nil, fmt.Errorf("notify user %s: %w", userID, err)
		}
		if progress != nil {
			progress((i + 1) * 100 / len(recipients))
		}
	}

	w.log.Debug("user notifications sent",
		slog.String("job_id", job.ID),
		slog.Int("recipients", len(recipients)))
	return Result{Delivered: len(recipients)}, nil
}
