package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

var migrationFile = regexp.MustCompile(`^migrations/([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// conn is satisfied by *pgxpool.Pool and pgxmock pools.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type migrator struct {
	db         conn
	log        zerolog.Logger
	migrations []migration
}

// migrationStatus pairs a known migration with whether it is recorded.
type migrationStatus struct {
	Version int64
	Name    string
	Applied bool
}

func newMigrator(db conn, fsys fs.FS, log zerolog.Logger) (*migrator, error) {
	ms, err := loadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	return &migrator{db: db, log: log, migrations: ms}, nil
}

func (m *migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     BIGINT PRIMARY KEY,
    name        TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func (m *migrator) applied(ctx context.Context) (map[int64]bool, error) {
	rows, err := m.db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(versions))
	for _, v := range versions {
		out[v] = true
	}
	return out, nil
}

// up applies every pending migration in version order, one transaction each.
func (m *migrator) up(ctx context.Context) (int, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, mig := range m.migrations {
		if done[mig.Version] {
			continue
		}
		err := pgx.BeginFunc(ctx, m.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("version %d up: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return n, err
		}
		m.log.Info().Int64("version", mig.Version).Str("name", mig.Name).Msg("applied")
		n++
	}
	return n, nil
}

// down rolls back the newest steps recorded versions.
func (m *migrator) down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		return 0, errors.New("steps must be > 0")
	}
	rows, err := m.db.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return 0, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, err
	}

	n := 0
	for _, v := range versions {
		idx := slices.IndexFunc(m.migrations, func(mig migration) bool { return mig.Version == v })
		if idx < 0 {
			return n, fmt.Errorf("no source for applied version %d", v)
		}
		mig := m.migrations[idx]
		err := pgx.BeginFunc(ctx, m.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return fmt.Errorf("version %d down: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
			return err
		})
		if err != nil {
			return n, err
		}
		m.log.Info().Int64("version", mig.Version).Str("name", mig.Name).Msg("rolled back")
		n++
	}
	return n, nil
}

// current returns the newest recorded version, or zero when none.
func (m *migrator) current(ctx context.Context) (int64, string, error) {
	var (
		version int64
		name    string
	)
	err := m.db.QueryRow(ctx, `SELECT version, name FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", nil
	}
	return version, name, err
}

func (m *migrator) status(ctx context.Context) ([]migrationStatus, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]migrationStatus, len(m.migrations))
	for i, mig := range m.migrations {
		out[i] = migrationStatus{Version: mig.Version, Name: mig.Name, Applied: done[mig.Version]}
	}
	return out, nil
}

// loadMigrations pairs NNNN_name.up.sql with NNNN_name.down.sql files and
// sorts them by version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	paths, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, p := range paths {
		parts := migrationFile.FindStringSubmatch(p)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration filename: %s", p)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version in %s: %w", p, err)
		}
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("empty migration file: %s", p)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &migration{Version: version, Name: parts[2]}
			byVersion[version] = mig
		} else if mig.Name != parts[2] {
			return nil, fmt.Errorf("version %d has conflicting names %s and %s", version, mig.Name, parts[2])
		}

		target := &mig.UpSQL
		if parts[3] == "down" {
			target = &mig.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*target = body
	}

	out := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.UpSQL == "" || mig.DownSQL == "" {
			return nil, fmt.Errorf("version %d needs both up and down files", mig.Version)
		}
		out = append(out, *mig)
	}
	slices.SortFunc(out, func(a, b migration) int { return int(a.Version - b.Version) })
	return out, nil
}
