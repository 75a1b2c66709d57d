package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
)

// ProgressFunc reports advisory progress in percent (clamped to 0-100).
type ProgressFunc func(percent int)

// HandlerFunc executes one attempt of a job. The returned value becomes the
// job result; an error fails the attempt.
type HandlerFunc func(ctx context.Context, job Job, progress ProgressFunc) (any, error)

// Mux binds a queue's closed set of kinds to handlers and dispatches by kind.
type Mux struct {
	declared []Kind
	handlers map[Kind]HandlerFunc
}

// NewMux declares the kinds a queue accepts.
func NewMux(kinds ...Kind) *Mux {
	return &Mux{
		declared: slices.Clone(kinds),
		handlers: make(map[Kind]HandlerFunc, len(kinds)),
	}
}

// Handle binds a handler to kind.
func (m *Mux) Handle(kind Kind, h HandlerFunc) *Mux {
	m.handlers[kind] = h
	return m
}

// Kinds returns the declared kinds.
func (m *Mux) Kinds() []Kind {
	return slices.Clone(m.declared)
}

// Accepts reports whether kind is declared.
func (m *Mux) Accepts(kind Kind) bool {
	return slices.Contains(m.declared, kind)
}

// Validate checks that every declared kind has a handler and that no handler
// is bound to an undeclared kind.
func (m *Mux) Validate() error {
	if len(m.declared) == 0 {
		return errors.New("mux declares no kinds")
	}
	var errs []error
	for _, k := range m.declared {
		if m.handlers[k] == nil {
			errs = append(errs, fmt.Errorf("kind %q has no handler", k))
		}
	}
	for k := range m.handlers {
		if !m.Accepts(k) {
			errs = append(errs, fmt.Errorf("handler bound to undeclared kind %q", k))
		}
	}
	return errors.Join(errs...)
}

// Dispatch runs the handler for job.Kind.
func (m *Mux) Dispatch(ctx context.Context, job Job, progress ProgressFunc) (any, error) {
	h, ok := m.handlers[job.Kind]
	if !ok {
		return nil, apperror.ErrUnknownJobType.WithMessage(fmt.Sprintf("no handler for job kind %q", job.Kind))
	}
	return h(ctx, job, progress)
}
