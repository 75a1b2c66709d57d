package tenantcache

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/internal/config"
)

// Module provides the tenant cache
var Module = fx.Module("tenantcache",
	fx.Provide(
		NewStoreFromConfig,
		NewFromConfig,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// StoreParams for NewStoreFromConfig
type StoreParams struct {
	fx.In
	Cfg   *config.Config
	Redis *redis.Client `optional:"true"`
}

// NewStoreFromConfig uses Redis when configured and process memory otherwise.
func NewStoreFromConfig(p StoreParams) Store {
	if p.Redis == nil {
		return NewMemoryStore()
	}
	return NewRedisStore(p.Redis, p.Cfg.Cache.KeyPrefix)
}

// NewFromConfig creates the cache, announcing deletions through the realtime emitter.
func NewFromConfig(store Store, emitter *realtime.Emitter, cfg *config.Config, log *slog.Logger) *Cache {
	return New(store, log,
		WithInvalidator(emitter),
		WithDefaultTTL(cfg.Cache.DefaultTTL),
	)
}
