package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// DefaultHeartbeatInterval is how often every connection gets a heartbeat.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat periodically queues a heartbeat frame on every connection and
// drops connections that can no longer take one.
type Heartbeat struct {
	registry *Registry
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat creates a heartbeat over registry.
func NewHeartbeat(registry *Registry, interval time.Duration, log *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		registry: registry,
		interval: interval,
		log:      log.With(logger.Scope("realtime.heartbeat")),
	}
}

// Start launches the heartbeat loop.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(ctx, h.done)
}

// Stop ends the heartbeat loop and waits for it.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *Heartbeat) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

// beat sends one heartbeat to every connection.
func (h *Heartbeat) beat() {
	connections := h.registry.Connections()
	if len(connections) == 0 {
		return
	}

	frame := Frame{Type: FrameHeartbeat, Timestamp: time.Now().UTC()}
	for _, c := range connections {
		if c.Send(frame) {
			continue
		}
		h.log.Warn("failed to send heartbeat", slog.String("connection_id", c.ID))
		h.registry.Disconnect(c.ID)
	}
}
