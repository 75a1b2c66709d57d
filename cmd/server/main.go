// Package main provides the entry point for the PilgrimOps core server:
// job queues and workers, realtime event delivery and the tenant cache.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/emergent-company/pilgrimops/domain/batch"
	"github.com/emergent-company/pilgrimops/domain/documents"
	"github.com/emergent-company/pilgrimops/domain/email"
	"github.com/emergent-company/pilgrimops/domain/health"
	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/notifications"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/domain/scheduler"
	"github.com/emergent-company/pilgrimops/domain/tenantcache"
	"github.com/emergent-company/pilgrimops/domain/tracing"
	"github.com/emergent-company/pilgrimops/internal/config"
	"github.com/emergent-company/pilgrimops/internal/database"
	"github.com/emergent-company/pilgrimops/internal/migrate"
	"github.com/emergent-company/pilgrimops/internal/redisdb"
	"github.com/emergent-company/pilgrimops/internal/server"
	"github.com/emergent-company/pilgrimops/internal/storage"
	"github.com/emergent-company/pilgrimops/pkg/auth"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		tracing.Module,
		database.Module,
		migrate.Module,
		redisdb.Module,
		storage.Module,
		server.Module,

		auth.Module,

		// Core: realtime delivery, tenant cache, job broker
		realtime.Module,
		tenantcache.Module,
		jobs.Module,

		// Queues
		email.Module,
		notifications.Module,
		batch.Module,
		documents.Module,

		// Periodic maintenance (cron-based)
		scheduler.Module,

		health.Module,
	).Run()
}
