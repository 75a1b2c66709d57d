package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/auth"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Client operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpHistory     = "get:history"
	OpPing        = "ping"
)

// ClientMessage is one client to server request.
type ClientMessage struct {
	Op         string     `json:"op"`
	RequestID  string     `json:"requestId,omitempty"`
	EventTypes []string   `json:"eventTypes,omitempty"`
	EntityID   string     `json:"entityId,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
}

// GatewayConfig tunes the WebSocket gateway.
type GatewayConfig struct {
	SendBuffer     int
	OpsPerSecond   float64
	OpsBurst       int
	AllowedOrigins []string
}

// Gateway serves realtime connections over WebSocket.
type Gateway struct {
	registry    *Registry
	broadcaster *Broadcaster
	log         *slog.Logger
	upgrader    websocket.Upgrader
	cfg         GatewayConfig
}

// NewGateway creates the WebSocket gateway.
func NewGateway(registry *Registry, broadcaster *Broadcaster, cfg GatewayConfig, log *slog.Logger) *Gateway {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 64
	}
	if cfg.OpsPerSecond <= 0 {
		cfg.OpsPerSecond = 10
	}
	if cfg.OpsBurst < 1 {
		cfg.OpsBurst = 20
	}
	g := &Gateway{
		registry:    registry,
		broadcaster: broadcaster,
		log:         log.With(logger.Scope("realtime.gateway")),
		cfg:         cfg,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(g.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// HandleWebSocket handles GET /api/realtime/ws. The caller is authenticated
// and registered before the upgrade, so a rejected handshake never joins a room.
func (g *Gateway) HandleWebSocket(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthenticated
	}

	conn := NewConnection(*user, "ws", g.cfg.SendBuffer)
	if err := g.registry.Connect(conn); err != nil {
		return err
	}
	defer g.registry.Disconnect(conn.ID)

	ws, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}

	conn.Send(Frame{Type: FrameConnected, ConnectionID: conn.ID, Timestamp: conn.ConnectedAt})

	go g.writePump(ws, conn)
	g.readPump(c.Request().Context(), ws, conn)
	return nil
}

// readPump reads client operations until the socket fails or closes.
func (g *Gateway) readPump(ctx context.Context, ws *websocket.Conn, conn *Connection) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(g.cfg.OpsPerSecond), g.cfg.OpsBurst)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("websocket closed", slog.String("connection_id", conn.ID), logger.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		var reply Frame
		switch {
		case json.Unmarshal(raw, &msg) != nil:
			reply = errorFrame(msg, apperror.NewBadRequest("malformed message"))
		case !limiter.Allow():
			reply = errorFrame(msg, apperror.ErrRateLimited)
		default:
			reply = g.handle(ctx, conn, msg)
		}
		if !conn.Send(reply) {
			framesDropped.WithLabelValues(conn.Transport).Inc()
		}
	}
}

// writePump drains the connection's outbound queue onto the socket.
func (g *Gateway) writePump(ws *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	write := func(mt int, payload []byte) error {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteMessage(mt, payload)
	}

	for {
		select {
		case <-conn.Done():
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f := <-conn.Outbound():
			payload, err := json.Marshal(f)
			if err != nil {
				g.log.Error("failed to encode frame", slog.String("connection_id", conn.ID), logger.Error(err))
				continue
			}
			if err := write(websocket.TextMessage, payload); err != nil {
				g.log.Debug("websocket write failed", slog.String("connection_id", conn.ID), logger.Error(err))
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle runs one client operation and returns the acknowledgement.
func (g *Gateway) handle(ctx context.Context, conn *Connection, msg ClientMessage) Frame {
	switch msg.Op {
	case OpSubscribe:
		scope, err := g.registry.Subscribe(ctx, conn.ID, msg.EventTypes, msg.EntityID)
		if err != nil {
			return errorFrame(msg, err)
		}
		return Frame{Type: FrameAck, Op: msg.Op, RequestID: msg.RequestID, Scope: &scope}

	case OpUnsubscribe:
		scope, err := g.registry.Unsubscribe(conn.ID, msg.EventTypes, msg.EntityID)
		if err != nil {
			return errorFrame(msg, err)
		}
		return Frame{Type: FrameAck, Op: msg.Op, RequestID: msg.RequestID, Scope: &scope}

	case OpHistory:
		types, err := ParseEventTypes(msg.EventTypes)
		if err != nil {
			return errorFrame(msg, err)
		}
		q := HistoryQuery{TenantID: conn.TenantID, UserID: conn.UserID, Types: types}
		if msg.Since != nil {
			q.Since = *msg.Since
		}
		events, err := g.broadcaster.History(ctx, q)
		if err != nil {
			return errorFrame(msg, err)
		}
		return Frame{Type: FrameHistory, Op: msg.Op, RequestID: msg.RequestID, Events: events}

	case OpPing:
		return Frame{Type: FramePong, RequestID: msg.RequestID, Timestamp: time.Now().UTC()}

	default:
		return errorFrame(msg, apperror.NewBadRequest("unknown op").WithDetails(map[string]any{"op": msg.Op}))
	}
}

func errorFrame(msg ClientMessage, err error) Frame {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.ErrInternal
	}
	return Frame{
		Type:      FrameError,
		Op:        msg.Op,
		RequestID: msg.RequestID,
		Error: &ErrorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
	}
}
