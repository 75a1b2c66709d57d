package realtime

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

func tenantRoom(tenantID string) string {
	return "tenant:" + tenantID
}

func typeRoom(tenantID string, t EventType) string {
	return "tenant:" + tenantID + ":type:" + string(t)
}

func entityRoom(tenantID, entityID string) string {
	return "tenant:" + tenantID + ":entity:" + entityID
}

func userRoom(tenantID, userID string) string {
	return "user:" + tenantID + ":" + userID
}

// Registry tracks live connections and their room memberships.
type Registry struct {
	log    *slog.Logger
	policy *Policy

	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry(policy *Policy, log *slog.Logger) *Registry {
	if policy == nil {
		policy = NewPolicy()
	}
	return &Registry{
		log:    log.With(logger.Scope("realtime.registry")),
		policy: policy,
		conns:  make(map[string]*Connection),
		rooms:  make(map[string]map[string]*Connection),
	}
}

func (r *Registry) join(room string, c *Connection) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	members[c.ID] = c
}

func (r *Registry) leave(room string, c *Connection) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Connect registers c in its tenant room and its user room.
func (r *Registry) Connect(c *Connection) error {
	if c == nil || c.UserID == "" || c.TenantID == "" {
		return apperror.ErrUnauthenticated
	}

	r.mu.Lock()
	r.conns[c.ID] = c
	r.join(tenantRoom(c.TenantID), c)
	r.join(userRoom(c.TenantID, c.UserID), c)
	r.mu.Unlock()

	connectionsGauge.WithLabelValues(c.Transport).Inc()
	r.log.Info("connection registered",
		slog.String("connection_id", c.ID),
		slog.String("tenant_id", c.TenantID),
		slog.String("user_id", c.UserID),
		slog.String("transport", c.Transport),
	)
	return nil
}

// Disconnect removes the connection from every room and closes it.
// Unknown IDs are ignored.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	r.leave(tenantRoom(c.TenantID), c)
	r.leave(userRoom(c.TenantID, c.UserID), c)
	for t := range c.types {
		r.leave(typeRoom(c.TenantID, t), c)
	}
	for id := range c.entities {
		r.leave(entityRoom(c.TenantID, id), c)
	}
	r.mu.Unlock()

	c.close()
	connectionsGauge.WithLabelValues(c.Transport).Dec()
	r.log.Info("connection removed", slog.String("connection_id", connID))
}

// Subscribe joins the type rooms for eventTypes and, when entityID is set,
// the entity room. Every requested type is authorised before any room is
// joined, so a denied type leaves the connection unchanged. Subscribing to
// a room already joined is a no-op. The returned scope is the connection's
// full subscription set after the call.
func (r *Registry) Subscribe(ctx context.Context, connID string, eventTypes []string, entityID string) (Scope, error) {
	if len(eventTypes) == 0 && entityID == "" {
		return Scope{}, apperror.NewBadRequest("eventTypes or entityId is required")
	}
	types, err := ParseEventTypes(eventTypes)
	if err != nil {
		return Scope{}, err
	}

	c, err := r.get(connID)
	if err != nil {
		return Scope{}, err
	}
	if err := r.policy.Authorize(ctx, c.identity(), types, entityID); err != nil {
		r.log.Debug("subscription denied",
			slog.String("connection_id", connID),
			logger.Error(err),
		)
		return Scope{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return Scope{}, apperror.NewNotFound("connection", connID)
	}
	for _, t := range types {
		c.types[t] = struct{}{}
		r.join(typeRoom(c.TenantID, t), c)
	}
	if entityID != "" {
		c.entities[entityID] = struct{}{}
		r.join(entityRoom(c.TenantID, entityID), c)
	}
	return scopeOf(c), nil
}

// Unsubscribe leaves the type rooms for eventTypes and, when entityID is
// set, the entity room.
func (r *Registry) Unsubscribe(connID string, eventTypes []string, entityID string) (Scope, error) {
	types, err := ParseEventTypes(eventTypes)
	if err != nil {
		return Scope{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return Scope{}, apperror.NewNotFound("connection", connID)
	}
	for _, t := range types {
		delete(c.types, t)
		r.leave(typeRoom(c.TenantID, t), c)
	}
	if entityID != "" {
		delete(c.entities, entityID)
		r.leave(entityRoom(c.TenantID, entityID), c)
	}
	return scopeOf(c), nil
}

// Scope returns a connection's current subscription set.
func (r *Registry) Scope(connID string) (Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return Scope{}, apperror.NewNotFound("connection", connID)
	}
	return scopeOf(c), nil
}

func scopeOf(c *Connection) Scope {
	s := Scope{EventTypes: make([]EventType, 0, len(c.types)), EntityIDs: make([]string, 0, len(c.entities))}
	for t := range c.types {
		s.EventTypes = append(s.EventTypes, t)
	}
	for id := range c.entities {
		s.EntityIDs = append(s.EntityIDs, id)
	}
	slices.Sort(s.EventTypes)
	slices.Sort(s.EntityIDs)
	return s
}

func (r *Registry) get(connID string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return nil, apperror.NewNotFound("connection", connID)
	}
	return c, nil
}

// members returns the union of the given rooms, each connection once.
func (r *Registry) members(rooms ...string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*Connection
	for _, room := range rooms {
		for id, c := range r.rooms[room] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Connections returns a snapshot of every live connection.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// TenantCount returns the number of live connections of one tenant.
func (r *Registry) TenantCount(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[tenantRoom(tenantID)])
}

// CloseAll disconnects every connection.
func (r *Registry) CloseAll() {
	for _, c := range r.Connections() {
		r.Disconnect(c.ID)
	}
}
