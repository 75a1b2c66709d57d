// Package realtime keeps live client connections grouped into rooms and fans
// tenant events out to them, with a bounded per-tenant replay history.
package realtime

import (
	"time"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
)

// EventType is one of the closed set of event tags clients can subscribe to.
type EventType string

const (
	EventDocumentApproved         EventType = "document.approved"
	EventDocumentRejected         EventType = "document.rejected"
	EventDocumentUploaded         EventType = "document.uploaded"
	EventPaymentReceived          EventType = "payment.received"
	EventPaymentApproved          EventType = "payment.approved"
	EventCommissionPayoutApproved EventType = "commission.payout.approved"
	EventCommissionEarned         EventType = "commission.earned"
	EventLeadAssigned             EventType = "lead.assigned"
	EventLeadUpdated              EventType = "lead.updated"
	EventPilgrimUpdated           EventType = "pilgrim.updated"
	EventJobCompleted             EventType = "job.completed"
	EventJobFailed                EventType = "job.failed"
	EventJobProgress              EventType = "job.progress"
	EventCacheInvalidated         EventType = "cache.invalidated"
	EventNotification             EventType = "notification"
)

var eventTypes = map[EventType]struct{}{
	EventDocumentApproved:         {},
	EventDocumentRejected:         {},
	EventDocumentUploaded:         {},
	EventPaymentReceived:          {},
	EventPaymentApproved:          {},
	EventCommissionPayoutApproved: {},
	EventCommissionEarned:         {},
	EventLeadAssigned:             {},
	EventLeadUpdated:              {},
	EventPilgrimUpdated:           {},
	EventJobCompleted:             {},
	EventJobFailed:                {},
	EventJobProgress:              {},
	EventCacheInvalidated:         {},
	EventNotification:             {},
}

// Valid reports whether t belongs to the closed set.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// ParseEventTypes converts client supplied tags, rejecting the first unknown one.
// Duplicates are collapsed.
func ParseEventTypes(raw []string) ([]EventType, error) {
	out := make([]EventType, 0, len(raw))
	seen := make(map[EventType]struct{}, len(raw))
	for _, r := range raw {
		t := EventType(r)
		if !t.Valid() {
			return nil, apperror.ErrUnknownEventType.WithDetails(map[string]any{"eventType": r})
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Event is the wire shape delivered to subscribed clients.
type Event struct {
	Type      EventType      `json:"type"`
	TenantID  string         `json:"tenantId"`
	EntityID  string         `json:"entityId,omitempty"`
	Data      any            `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actorId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// targetUserID is set for user-targeted events; replay only returns them
	// to that user.
	targetUserID string
}

// TargetUserID returns the user an event was addressed to, if any.
func (e Event) TargetUserID() string {
	return e.targetUserID
}

// visibleTo reports whether a replaying user may see e.
func (e Event) visibleTo(userID string) bool {
	return e.targetUserID == "" || e.targetUserID == userID
}

// Frame types sent from the server to a client.
const (
	FrameConnected = "connected"
	FrameEvent     = "event"
	FrameAck       = "ack"
	FrameError     = "error"
	FrameHistory   = "history"
	FrameHeartbeat = "heartbeat"
	FramePong      = "pong"
)

// Frame is one server to client message.
type Frame struct {
	Type         string     `json:"type"`
	Op           string     `json:"op,omitempty"`
	RequestID    string     `json:"requestId,omitempty"`
	ConnectionID string     `json:"connectionId,omitempty"`
	Event        *Event     `json:"event,omitempty"`
	Events       []Event    `json:"events,omitempty"`
	Scope        *Scope     `json:"scope,omitempty"`
	Error        *ErrorBody `json:"error,omitempty"`
	Timestamp    time.Time  `json:"timestamp,omitzero"`
}

// ErrorBody carries an apperror code back over a persistent connection.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Scope is a connection's current subscription set.
type Scope struct {
	EventTypes []EventType `json:"eventTypes"`
	EntityIDs  []string    `json:"entityIds"`
}

// HistoryQuery filters a tenant's replay buffer.
type HistoryQuery struct {
	TenantID string
	// UserID hides events targeted at other users
	UserID string
	// Since is exclusive; zero means everything buffered
	Since time.Time
	// Types restricts the result; empty means all types
	Types []EventType
}

func (q HistoryQuery) match(e Event) bool {
	if e.TenantID != q.TenantID || !e.visibleTo(q.UserID) {
		return false
	}
	if !q.Since.IsZero() && !e.Timestamp.After(q.Since) {
		return false
	}
	if len(q.Types) == 0 {
		return true
	}
	for _, t := range q.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}
