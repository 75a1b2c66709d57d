package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// maxBackoffDelay caps a single retry delay.
const maxBackoffDelay = time.Hour

// BackoffPolicy computes the delay before a retry.
type BackoffPolicy struct {
	Type  BackoffType   `json:"type" yaml:"type"`
	Delay time.Duration `json:"delay" yaml:"delay"`
}

// Validate checks the policy type.
func (p BackoffPolicy) Validate() error {
	switch p.Type {
	case BackoffExponential, BackoffFixed, "":
		return nil
	default:
		return fmt.Errorf("unknown backoff type %q", p.Type)
	}
}

// DelayFor returns the wait before the retry that follows the given failed
// attempt (1-based). Exponential: base * 2^(attempt-1). Fixed: base.
func (p BackoffPolicy) DelayFor(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if p.Type == BackoffFixed {
		return p.Delay
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Delay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max(maxBackoffDelay, p.Delay),
	}
	b.Reset()

	var d time.Duration
	for range attempt {
		d = b.NextBackOff()
	}
	return d
}

// Permanent marks err as not retryable: the job fails on the current attempt
// whatever its remaining attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	var perr *backoff.PermanentError
	return errors.As(err, &perr)
}
