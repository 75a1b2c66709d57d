package realtime

import "sync"

// DefaultHistorySize is the per-tenant replay capacity.
const DefaultHistorySize = 100

// ring is a fixed-capacity FIFO; the oldest event is overwritten when full.
type ring struct {
	buf  []Event
	head int
	size int
}

func (r *ring) push(e Event) {
	idx := (r.head + r.size) % len(r.buf)
	if r.size == len(r.buf) {
		r.buf[r.head] = e
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[idx] = e
	r.size++
}

func (r *ring) events() []Event {
	out := make([]Event, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// History holds one bounded replay buffer per tenant, created on first use.
type History struct {
	capacity int

	mu      sync.Mutex
	tenants map[string]*ring
}

// NewHistory creates per-tenant buffers of the given capacity.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &History{capacity: capacity, tenants: make(map[string]*ring)}
}

// Capacity returns the per-tenant bound.
func (h *History) Capacity() int {
	return h.capacity
}

// Append records e in its tenant's buffer, evicting the oldest when full.
func (h *History) Append(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.tenants[e.TenantID]
	if !ok {
		r = &ring{buf: make([]Event, h.capacity)}
		h.tenants[e.TenantID] = r
	}
	r.push(e)
}

// Events returns a tenant's buffer oldest first.
func (h *History) Events(tenantID string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.tenants[tenantID]
	if !ok {
		return nil
	}
	return r.events()
}

// Replace overwrites a tenant's buffer with events read from the shared store.
func (h *History) Replace(tenantID string, events []Event) {
	r := &ring{buf: make([]Event, h.capacity)}
	if len(events) > h.capacity {
		events = events[len(events)-h.capacity:]
	}
	for _, e := range events {
		r.push(e)
	}
	h.mu.Lock()
	h.tenants[tenantID] = r
	h.mu.Unlock()
}

// Query returns the events of q.TenantID that match q, oldest first.
func (h *History) Query(q HistoryQuery) []Event {
	return filterEvents(h.Events(q.TenantID), q)
}

func filterEvents(events []Event, q HistoryQuery) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if q.match(e) {
			out = append(out, e)
		}
	}
	return out
}
