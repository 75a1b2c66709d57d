package realtime

import (
	"context"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/auth"
)

// EntityAccessFunc decides whether a caller may watch one entity.
type EntityAccessFunc func(ctx context.Context, id auth.Identity, entityID string) bool

// sameTenant is the default entity check: the room is already tenant scoped,
// so any connection of the tenant may watch any of its entities.
func sameTenant(context.Context, auth.Identity, string) bool { return true }

// Policy is the subscribe-time capability check.
type Policy struct {
	restricted   map[EventType]struct{}
	entityAccess EntityAccessFunc
}

// PolicyOption configures a Policy
type PolicyOption func(*Policy)

// WithEntityAccess replaces the entity-level hook.
func WithEntityAccess(fn EntityAccessFunc) PolicyOption {
	return func(p *Policy) {
		if fn != nil {
			p.entityAccess = fn
		}
	}
}

// WithRestricted adds event types that require an administrative role.
func WithRestricted(types ...EventType) PolicyOption {
	return func(p *Policy) {
		for _, t := range types {
			p.restricted[t] = struct{}{}
		}
	}
}

// NewPolicy creates the default policy: money-movement approvals, job
// lifecycle and cache invalidation are administrative, the rest is open to
// any authenticated role.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		restricted: map[EventType]struct{}{
			EventPaymentApproved:          {},
			EventCommissionPayoutApproved: {},
			EventJobCompleted:             {},
			EventJobFailed:                {},
			EventJobProgress:              {},
			EventCacheInvalidated:         {},
		},
		entityAccess: sameTenant,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Restricted reports whether t needs an administrative role.
func (p *Policy) Restricted(t EventType) bool {
	_, ok := p.restricted[t]
	return ok
}

// Authorize checks a whole subscribe request. The first denied type rejects
// the request and is named in the error details.
func (p *Policy) Authorize(ctx context.Context, id auth.Identity, types []EventType, entityID string) error {
	for _, t := range types {
		if p.Restricted(t) && !id.Role.Administrative() {
			return apperror.ErrPermissionDenied.
				WithMessage("Insufficient role to subscribe to " + string(t)).
				WithDetails(map[string]any{"eventType": string(t), "role": string(id.Role)})
		}
	}
	if entityID != "" && !p.entityAccess(ctx, id, entityID) {
		return apperror.ErrPermissionDenied.
			WithMessage("Not allowed to watch this entity").
			WithDetails(map[string]any{"entityId": entityID})
	}
	return nil
}
