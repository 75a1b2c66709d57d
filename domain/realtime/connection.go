package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/pilgrimops/pkg/auth"
)

// Connection is one authenticated client session, whatever its transport.
// Transports drain Outbound in order and stop when Done is closed.
type Connection struct {
	ID          string
	UserID      string
	TenantID    string
	Role        auth.Role
	Transport   string
	ConnectedAt time.Time

	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once

	// guarded by Registry.mu
	types    map[EventType]struct{}
	entities map[string]struct{}
}

// NewConnection creates a connection for an authenticated identity.
// buffer bounds the outbound queue; frames beyond it are dropped.
func NewConnection(id auth.Identity, transport string, buffer int) *Connection {
	if buffer < 1 {
		buffer = 1
	}
	return &Connection{
		ID:          transport + "_" + uuid.NewString(),
		UserID:      id.UserID,
		TenantID:    id.TenantID,
		Role:        id.Role,
		Transport:   transport,
		ConnectedAt: time.Now().UTC(),
		out:         make(chan Frame, buffer),
		done:        make(chan struct{}),
		types:       make(map[EventType]struct{}),
		entities:    make(map[string]struct{}),
	}
}

// Outbound yields frames in the order they were queued.
func (c *Connection) Outbound() <-chan Frame {
	return c.out
}

// Done is closed once the connection has been disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send queues a frame without blocking. It returns false when the
// connection is closed or its queue is full.
func (c *Connection) Send(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Connection) identity() auth.Identity {
	return auth.Identity{UserID: c.UserID, TenantID: c.TenantID, Role: c.Role}
}
