package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Broadcaster fans events out to rooms and records them for replay.
// Delivery is at most once live; History is the catch-up path.
type Broadcaster struct {
	log      *slog.Logger
	registry *Registry
	history  *History
	relay    Relay

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// BroadcasterOption configures a Broadcaster
type BroadcasterOption func(*Broadcaster)

// WithRelay shares events and history with other instances.
func WithRelay(r Relay) BroadcasterOption {
	return func(b *Broadcaster) {
		b.relay = r
	}
}

// NewBroadcaster creates a broadcaster over registry and history.
func NewBroadcaster(registry *Registry, history *History, log *slog.Logger, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		log:      log.With(logger.Scope("realtime.broadcaster")),
		registry: registry,
		history:  history,
		tenants:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// tenantLock serialises publishes of one tenant so every room sees them in
// publish order.
func (b *Broadcaster) tenantLock(tenantID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.tenants[tenantID]
	if !ok {
		l = &sync.Mutex{}
		b.tenants[tenantID] = l
	}
	return l
}

func prepare(e *Event) error {
	if e.TenantID == "" {
		return apperror.ErrMissingTenant
	}
	if !e.Type.Valid() {
		return apperror.ErrUnknownEventType.WithDetails(map[string]any{"eventType": string(e.Type)})
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}

func publishRooms(e Event) []string {
	if e.targetUserID != "" {
		return []string{userRoom(e.TenantID, e.targetUserID)}
	}
	rooms := []string{tenantRoom(e.TenantID), typeRoom(e.TenantID, e.Type)}
	if e.EntityID != "" {
		rooms = append(rooms, entityRoom(e.TenantID, e.EntityID))
	}
	return rooms
}

// Publish delivers e to its tenant room, its tenant+type room and, when
// EntityID is set, its tenant+entity room, each connection once. Having no
// recipients is not an error.
func (b *Broadcaster) Publish(ctx context.Context, e Event) error {
	e.targetUserID = ""
	if err := prepare(&e); err != nil {
		return err
	}
	eventsPublished.WithLabelValues(string(e.Type), "tenant").Inc()
	b.dispatch(ctx, e, true)
	return nil
}

// PublishToUser delivers e only to the connections of one user of tenantID.
func (b *Broadcaster) PublishToUser(ctx context.Context, userID, tenantID string, e Event) error {
	if userID == "" {
		return apperror.NewBadRequest("user ID is required")
	}
	e.TenantID = tenantID
	e.targetUserID = userID
	if err := prepare(&e); err != nil {
		return err
	}
	eventsPublished.WithLabelValues(string(e.Type), "user").Inc()
	b.dispatch(ctx, e, true)
	return nil
}

// deliverRelayed handles an event published by another instance.
func (b *Broadcaster) deliverRelayed(e Event) {
	if e.TenantID == "" || !e.Type.Valid() {
		return
	}
	b.dispatch(context.Background(), e, false)
}

func (b *Broadcaster) dispatch(ctx context.Context, e Event, relay bool) {
	l := b.tenantLock(e.TenantID)
	l.Lock()
	recipients := b.registry.members(publishRooms(e)...)
	frame := Frame{Type: FrameEvent, Event: &e}
	delivered := 0
	for _, c := range recipients {
		if c.TenantID != e.TenantID {
			continue
		}
		if c.Send(frame) {
			delivered++
			continue
		}
		framesDropped.WithLabelValues(c.Transport).Inc()
		b.log.Debug("dropped event frame",
			slog.String("connection_id", c.ID),
			slog.String("event_type", string(e.Type)),
		)
	}
	b.history.Append(e)

	// under the tenant lock so a concurrent History refresh never sees the
	// local append without the shared one
	if relay && b.relay != nil {
		if err := b.relay.Publish(ctx, e); err != nil {
			b.log.Warn("relay publish failed",
				slog.String("tenant_id", e.TenantID),
				slog.String("event_type", string(e.Type)),
				logger.Error(err),
			)
		}
	}
	l.Unlock()

	eventsDelivered.WithLabelValues(string(e.Type)).Add(float64(delivered))
}

// History returns the buffered events of q.TenantID matching q, oldest
// first. With a relay the shared history is authoritative and refreshes the
// local buffer; if it cannot be read the local buffer is used.
func (b *Broadcaster) History(ctx context.Context, q HistoryQuery) ([]Event, error) {
	if q.TenantID == "" {
		return nil, apperror.ErrMissingTenant
	}
	if b.relay != nil {
		l := b.tenantLock(q.TenantID)
		l.Lock()
		events, err := b.relay.History(ctx, q.TenantID)
		if err == nil {
			b.history.Replace(q.TenantID, events)
		}
		l.Unlock()
		if err == nil {
			return filterEvents(events, q), nil
		}
		b.log.Warn("relay history unavailable, using local buffer",
			slog.String("tenant_id", q.TenantID),
			logger.Error(err),
		)
	}
	return b.history.Query(q), nil
}

// RunRelay feeds events from other instances into local rooms until ctx is
// done. It returns immediately without a relay.
func (b *Broadcaster) RunRelay(ctx context.Context) error {
	if b.relay == nil {
		return nil
	}
	return b.relay.Subscribe(ctx, b.deliverRelayed)
}
