// Command migrate applies, rolls back, or reports the job archive schema.
//
//	migrate [-env .env] up|down|version
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/emergent-company/pilgrimops/internal/config"
	"github.com/emergent-company/pilgrimops/internal/migrate"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

func main() {
	envFile := flag.String("env", ".env", "Optional env file to load first")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-env .env] [-timeout 5m] up|down|version")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load(*envFile)

	if err := run(flag.Arg(0), *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, timeout time.Duration) error {
	log := logger.NewLogger()
	zl, err := logger.NewZapLogger()
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	cfg, err := config.NewConfig(log)
	if err != nil {
		return err
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN())))
	defer sqldb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	m := migrate.NewMigrator(sqldb, zl)
	switch command {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "version":
		v, err := m.Version(ctx)
		if err != nil {
			return err
		}
		log.Info("database schema version", slog.Int64("version", v))
		fmt.Println(v)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
