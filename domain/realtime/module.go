package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/internal/config"
	"github.com/emergent-company/pilgrimops/pkg/auth"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

// Module provides the realtime domain
var Module = fx.Module("realtime",
	fx.Provide(
		func() *Policy { return NewPolicy() },
		NewRegistry,
		NewHistoryFromConfig,
		NewRelayFromConfig,
		NewBroadcasterFromConfig,
		NewEmitter,
		func(e *Emitter) jobs.Notifier { return e },
		NewGatewayFromConfig,
		NewHandlerFromConfig,
		NewHeartbeatFromConfig,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterLifecycle),
)

// NewHistoryFromConfig sizes the replay buffers.
func NewHistoryFromConfig(cfg *config.Config) *History {
	return NewHistory(cfg.Realtime.HistorySize)
}

// RelayParams for NewRelayFromConfig
type RelayParams struct {
	fx.In
	Cfg   *config.Config
	Redis *redis.Client `optional:"true"`
	Log   *slog.Logger
}

// NewRelayFromConfig returns a Redis relay, or nil without Redis.
func NewRelayFromConfig(p RelayParams) Relay {
	if p.Redis == nil {
		return nil
	}
	return NewRedisRelay(p.Redis, p.Cfg.Realtime.RelayChannel, p.Cfg.Realtime.HistorySize, p.Log)
}

// NewBroadcasterFromConfig wires the optional relay.
func NewBroadcasterFromConfig(registry *Registry, history *History, relay Relay, log *slog.Logger) *Broadcaster {
	var opts []BroadcasterOption
	if relay != nil {
		opts = append(opts, WithRelay(relay))
	}
	return NewBroadcaster(registry, history, log, opts...)
}

// NewGatewayFromConfig creates the WebSocket gateway from config.
func NewGatewayFromConfig(registry *Registry, b *Broadcaster, cfg *config.Config, log *slog.Logger) *Gateway {
	rc := cfg.Realtime
	return NewGateway(registry, b, GatewayConfig{
		SendBuffer:     rc.SendBuffer,
		OpsPerSecond:   rc.OpsPerSecond,
		OpsBurst:       rc.OpsBurst,
		AllowedOrigins: rc.AllowedOrigins,
	}, log)
}

// NewHandlerFromConfig creates the SSE and REST handler from config.
func NewHandlerFromConfig(registry *Registry, b *Broadcaster, cfg *config.Config, log *slog.Logger) *Handler {
	return NewHandler(registry, b, cfg.Realtime.SendBuffer, log)
}

// NewHeartbeatFromConfig creates the heartbeat from config.
func NewHeartbeatFromConfig(registry *Registry, cfg *config.Config, log *slog.Logger) *Heartbeat {
	return NewHeartbeat(registry, cfg.Realtime.HeartbeatInterval, log)
}

// RouteParams are the dependencies for registering routes
type RouteParams struct {
	fx.In

	Echo           *echo.Echo
	Handler        *Handler
	Gateway        *Gateway
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes registers the realtime routes
func RegisterRoutes(p RouteParams) {
	RegisterRoutesManual(p.Echo, p.Handler, p.Gateway, p.AuthMiddleware)
}

// RegisterRoutesManual registers the realtime routes without fx
func RegisterRoutesManual(e *echo.Echo, h *Handler, g *Gateway, authMiddleware *auth.Middleware) {
	rt := e.Group("/api/realtime")
	rt.Use(authMiddleware.RequireAuth())

	rt.GET("/ws", g.HandleWebSocket)
	rt.GET("/stream", h.HandleStream)
	rt.GET("/history", h.HandleHistory)
	rt.GET("/connections/count", h.HandleConnectionsCount)
}

// LifecycleParams are the dependencies for lifecycle hooks
type LifecycleParams struct {
	fx.In

	LC          fx.Lifecycle
	Registry    *Registry
	Broadcaster *Broadcaster
	Heartbeat   *Heartbeat
	Log         *slog.Logger
}

// RegisterLifecycle starts heartbeats and the relay subscriber and closes
// every connection on shutdown.
func RegisterLifecycle(p LifecycleParams) {
	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Heartbeat.Start()

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.Broadcaster.RunRelay(ctx); err != nil {
					p.Log.Error("relay subscriber stopped", logger.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Log.Info("stopping realtime gateway")
			p.Heartbeat.Stop()
			if cancel != nil {
				cancel()
			}
			wg.Wait()
			p.Registry.CloseAll()
			return nil
		},
	})
}
