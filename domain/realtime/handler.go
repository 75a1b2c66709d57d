package realtime

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/auth"
	"github.com/emergent-company/pilgrimops/pkg/logger"
	"github.com/emergent-company/pilgrimops/pkg/sse"
)

// Handler serves the SSE stream and the REST catch-up endpoints.
type Handler struct {
	registry    *Registry
	broadcaster *Broadcaster
	sendBuffer  int
	log         *slog.Logger
}

// NewHandler creates a new realtime handler
func NewHandler(registry *Registry, broadcaster *Broadcaster, sendBuffer int, log *slog.Logger) *Handler {
	return &Handler{
		registry:    registry,
		broadcaster: broadcaster,
		sendBuffer:  sendBuffer,
		log:         log.With(logger.Scope("realtime.handler")),
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseSince(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, apperror.NewBadRequest("since must be an ISO-8601 timestamp")
	}
	return t, nil
}

// historyQuery reads since and types from the request.
func historyQuery(c echo.Context, user *auth.Identity) (HistoryQuery, error) {
	since := c.QueryParam("since")
	if since == "" {
		since = c.Request().Header.Get(sse.LastEventIDHeader)
	}
	t, err := parseSince(since)
	if err != nil {
		return HistoryQuery{}, err
	}
	types, err := ParseEventTypes(splitList(c.QueryParam("types")))
	if err != nil {
		return HistoryQuery{}, err
	}
	return HistoryQuery{TenantID: user.TenantID, UserID: user.UserID, Since: t, Types: types}, nil
}

// HandleStream handles GET /api/realtime/stream
//
// Query parameters: types (comma separated), entityId, since. A reconnecting
// EventSource sends Last-Event-ID, which is used as since when absent.
func (h *Handler) HandleStream(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}

	q, err := historyQuery(c, user)
	if err != nil {
		return err
	}
	types := splitList(c.QueryParam("types"))
	entityID := c.QueryParam("entityId")

	conn := NewConnection(*user, "sse", h.sendBuffer)
	if err := h.registry.Connect(conn); err != nil {
		return err
	}
	defer h.registry.Disconnect(conn.ID)

	if len(types) > 0 || entityID != "" {
		if _, err := h.registry.Subscribe(c.Request().Context(), conn.ID, types, entityID); err != nil {
			return err
		}
	}

	// the connection sits in its tenant room, so replay covers every type
	// live delivery would have pushed
	q.Types = nil

	var replay []Event
	if !q.Since.IsZero() {
		if replay, err = h.broadcaster.History(c.Request().Context(), q); err != nil {
			return err
		}
	}

	w := sse.NewWriter(c.Response())
	if err := w.Start(); err != nil {
		return apperror.ErrInternal.WithMessage("streaming not supported")
	}
	defer w.Close()

	if err := w.WriteEvent(FrameConnected, Frame{Type: FrameConnected, ConnectionID: conn.ID, Timestamp: conn.ConnectedAt}); err != nil {
		h.log.Error("failed to send connected event", logger.Error(err))
		return nil
	}
	for _, e := range replay {
		if err := w.Write(sseEvent(Frame{Type: FrameEvent, Event: &e})); err != nil {
			return nil
		}
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return nil
		case f := <-conn.Outbound():
			if err := w.Write(sseEvent(f)); err != nil {
				h.log.Debug("SSE write failed", slog.String("connection_id", conn.ID), logger.Error(err))
				return nil
			}
		}
	}
}

// sseEvent names event frames after their event type and stamps them with
// the event time so Last-Event-ID can resume the stream.
func sseEvent(f Frame) sse.Event {
	if f.Type == FrameEvent && f.Event != nil {
		return sse.Event{
			ID:   f.Event.Timestamp.Format(time.RFC3339Nano),
			Name: string(f.Event.Type),
			Data: f.Event,
		}
	}
	return sse.Event{Name: f.Type, Data: f}
}

// HandleHistory handles GET /api/realtime/history
func (h *Handler) HandleHistory(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}

	q, err := historyQuery(c, user)
	if err != nil {
		return err
	}
	events, err := h.broadcaster.History(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": events})
}

// HandleConnectionsCount handles GET /api/realtime/connections/count
func (h *Handler) HandleConnectionsCount(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}
	return c.JSON(http.StatusOK, map[string]int{
		"count": h.registry.TenantCount(user.TenantID),
	})
}
