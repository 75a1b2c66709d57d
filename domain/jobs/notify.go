package jobs

import "context"

// Notifier is told about job lifecycle events worth surfacing to clients.
// Implementations decide between user-targeted and tenant-wide delivery.
type Notifier interface {
	JobCompleted(ctx context.Context, job Job)
	JobFailed(ctx context.Context, job Job)
	JobProgress(ctx context.Context, job Job)
}

// Archiver persists jobs that reached a terminal state.
type Archiver interface {
	Archive(ctx context.Context, job Job) error
}

type nopNotifier struct{}

func (nopNotifier) JobCompleted(context.Context, Job) {}
func (nopNotifier) JobFailed(context.Context, Job)    {}
func (nopNotifier) JobProgress(context.Context, Job)  {}
