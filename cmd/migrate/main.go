// Command migrate applies the embedded SQL migrations to DATABASE_URL.
//
//	migrate up | down [steps] | version | status
package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"stockcast/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const usage = "usage: migrate [up|down|version|status] [steps]"

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	loadEnvFunc = godotenv.Load
	openConn    = func(ctx context.Context, dsn string) (conn, func(), error) {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
)

var errUsage = errors.New(usage)

func main() {
	_ = loadEnvFunc()

	log, err := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Format: "console", Output: "stderr"})
	if err != nil {
		log, _ = logger.New(logger.Config{Format: "console", Output: "stderr"})
	}
	if err := run(context.Background(), os.Args[1:], os.Getenv("DATABASE_URL"), log); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
}

func run(ctx context.Context, args []string, dsn string, log zerolog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "up", "down", "version", "status":
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
	steps := 1
	if args[0] == "down" && len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid down steps %q", args[1])
		}
		steps = n
	}
	if strings.TrimSpace(dsn) == "" {
		return errors.New("DATABASE_URL is required")
	}

	db, closeDB, err := openConn(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer closeDB()

	m, err := newMigrator(db, migrationsFS, log)
	if err != nil {
		return err
	}
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	switch args[0] {
	case "up":
		n, err := m.up(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("applied", n).Msg("migrations up complete")
	case "down":
		n, err := m.down(ctx, steps)
		if err != nil {
			return err
		}
		log.Info().Int("rolled_back", n).Msg("migrations down complete")
	case "version":
		version, name, err := m.current(ctx)
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info().Msg("no migrations applied")
			return nil
		}
		log.Info().Int64("version", version).Str("name", name).Msg("current version")
	case "status":
		st, err := m.status(ctx)
		if err != nil {
			return err
		}
		for _, s := range st {
			log.Info().Int64("version", s.Version).Str("name", s.Name).Bool("applied", s.Applied).Msg("migration")
		}
	}
	return nil
}
