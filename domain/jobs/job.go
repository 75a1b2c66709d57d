// Package jobs implements the in-process job broker: named queues with bounded
// concurrency, retries with backoff, delayed execution and retention of
// finished jobs for inspection.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions happen without an explicit retry.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Kind tags the type of work a job carries. Each queue declares a closed set of kinds.
type Kind string

// Payload is the job body. The tenant is always part of the payload so handlers
// stay tenant-aware; UserID is set when a user initiated the job.
type Payload struct {
	TenantID string          `json:"tenantId"`
	UserID   string          `json:"userId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewPayload encodes data into a payload for the given tenant and user.
func NewPayload(tenantID, userID string, data any) (Payload, error) {
	p := Payload{TenantID: tenantID, UserID: userID}
	if data == nil {
		return p, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Payload{}, fmt.Errorf("encode job payload: %w", err)
	}
	p.Data = raw
	return p, nil
}

// Decode unmarshals the payload data into dest.
func (p Payload) Decode(dest any) error {
	if len(p.Data) == 0 {
		return fmt.Errorf("job payload has no data")
	}
	if err := json.Unmarshal(p.Data, dest); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	return nil
}

// Job is a snapshot of a job as seen by handlers and status queries.
type Job struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Kind        Kind       `json:"kind"`
	Payload     Payload    `json:"payload"`
	State       State      `json:"state"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"maxAttempts"`
	Priority    int        `json:"priority"`
	Progress    int        `json:"progress"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	RunAt       *time.Time `json:"runAt,omitempty"`
}

// TenantID returns the tenant the job belongs to.
func (j Job) TenantID() string { return j.Payload.TenantID }

// UserID returns the initiating user, if any.
func (j Job) UserID() string { return j.Payload.UserID }

// Options tune a single submission. Zero values fall back to the queue defaults,
// which in turn fall back to DefaultOptions.
type Options struct {
	Attempts         int            `json:"attempts,omitempty" yaml:"attempts"`
	Backoff          *BackoffPolicy `json:"backoff,omitempty" yaml:"backoff"`
	Delay            time.Duration  `json:"delay,omitempty" yaml:"delay"`
	Priority         int            `json:"priority,omitempty" yaml:"priority"`
	RemoveOnComplete int            `json:"removeOnComplete,omitempty" yaml:"removeOnComplete"`
	RemoveOnFail     int            `json:"removeOnFail,omitempty" yaml:"removeOnFail"`
	Timeout          time.Duration  `json:"timeout,omitempty" yaml:"timeout"`
}

// DefaultOptions returns the broker-wide defaults: 3 attempts, exponential
// backoff from 5s, keep the last 100 completed and 500 failed jobs.
func DefaultOptions() Options {
	return Options{
		Attempts:         3,
		Backoff:          &BackoffPolicy{Type: BackoffExponential, Delay: 5 * time.Second},
		RemoveOnComplete: 100,
		RemoveOnFail:     500,
	}
}

// withDefaults fills every unset field of o from d.
func (o Options) withDefaults(d Options) Options {
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.Backoff == nil {
		o.Backoff = d.Backoff
	} else if d.Backoff != nil {
		b := *o.Backoff
		if b.Type == "" {
			b.Type = d.Backoff.Type
		}
		if b.Delay <= 0 {
			b.Delay = d.Backoff.Delay
		}
		o.Backoff = &b
	}
	if o.Delay <= 0 {
		o.Delay = d.Delay
	}
	if o.Priority == 0 {
		o.Priority = d.Priority
	}
	if o.RemoveOnComplete <= 0 {
		o.RemoveOnComplete = d.RemoveOnComplete
	}
	if o.RemoveOnFail <= 0 {
		o.RemoveOnFail = d.RemoveOnFail
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// RetryOptions tune Broker.Retry.
type RetryOptions struct {
	// ResetAttempts starts attempt accounting over instead of accumulating.
	ResetAttempts bool `json:"resetAttempts"`
}

// Metrics holds per-state job counts for one queue.
type Metrics struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}
