package main

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
)

var twoMigrations = fstest.MapFS{
	"migrations/0001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT)")},
	"migrations/0001_init.down.sql": {Data: []byte("DROP TABLE a")},
	"migrations/0002_more.up.sql":   {Data: []byte("CREATE TABLE b (id INT)")},
	"migrations/0002_more.down.sql": {Data: []byte("DROP TABLE b")},
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error loading embedded migrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("unexpected versions: %d, %d", migrations[0].Version, migrations[1].Version)
	}
	if migrations[1].Name != "create_ml_tables" {
		t.Fatalf("unexpected second migration name %q", migrations[1].Name)
	}
}

func TestLoadMigrationsRejectsBadSets(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"empty": {},
		"bad name": {
			"migrations/0001_Init.up.sql":   {Data: []byte("SELECT 1")},
			"migrations/0001_Init.down.sql": {Data: []byte("SELECT 1")},
		},
		"missing down": {
			"migrations/0001_init.up.sql": {Data: []byte("SELECT 1")},
		},
		"empty file": {
			"migrations/0001_init.up.sql":   {Data: []byte("  ")},
			"migrations/0001_init.down.sql": {Data: []byte("SELECT 1")},
		},
		"conflicting names": {
			"migrations/0001_init.up.sql":    {Data: []byte("SELECT 1")},
			"migrations/0001_other.down.sql": {Data: []byte("SELECT 1")},
		},
	}
	for name, fsys := range cases {
		if _, err := loadMigrations(fsys); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0010_late.up.sql":    {Data: []byte("SELECT 10")},
		"migrations/0010_late.down.sql":  {Data: []byte("SELECT -10")},
		"migrations/0002_early.up.sql":   {Data: []byte("SELECT 2")},
		"migrations/0002_early.down.sql": {Data: []byte("SELECT -2")},
	}
	migrations, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 2 || migrations[0].Version != 2 || migrations[1].Name != "late" {
		t.Fatalf("unexpected order: %+v", migrations)
	}
}

func newMockMigrator(t *testing.T) (*migrator, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	m, err := newMigrator(mock, twoMigrations, zerolog.Nop())
	if err != nil {
		t.Fatalf("newMigrator: %v", err)
	}
	return m, mock
}

func TestUpAppliesPendingOnly(t *testing.T) {
	m, mock := newMockMigrator(t)
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(int64(2), "more").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := m.up(context.Background())
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 applied, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	m, mock := newMockMigrator(t)
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax"))
	mock.ExpectRollback()

	n, err := m.up(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Fatalf("expected nothing applied, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDownRollsBackNewest(t *testing.T) {
	m, mock := newMockMigrator(t)
	mock.ExpectQuery("SELECT version FROM schema_migrations ORDER BY version DESC").WithArgs(1).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(2)))
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE b").WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec("DELETE FROM schema_migrations").WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	n, err := m.down(context.Background(), 1)
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 rolled back, got %d", n)
	}
	if _, err := m.down(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero steps")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDownUnknownVersion(t *testing.T) {
	m, mock := newMockMigrator(t)
	mock.ExpectQuery("SELECT version FROM schema_migrations ORDER BY version DESC").WithArgs(1).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(9)))

	if _, err := m.down(context.Background(), 1); err == nil {
		t.Fatal("expected error for a version without source")
	}
}

func TestCurrentAndStatus(t *testing.T) {
	m, mock := newMockMigrator(t)
	mock.ExpectQuery("SELECT version, name FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version", "name"}).AddRow(int64(1), "init"))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(1)))

	version, name, err := m.current(context.Background())
	if err != nil || version != 1 || name != "init" {
		t.Fatalf("current = %d %q %v", version, name, err)
	}
	st, err := m.status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st) != 2 || !st[0].Applied || st[1].Applied {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestCurrentWithNothingApplied(t *testing.T) {
	m, mock := newMockMigrator(t)
	mock.ExpectQuery("SELECT version, name FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version", "name"}))

	version, _, err := m.current(context.Background())
	if err != nil || version != 0 {
		t.Fatalf("current = %d %v", version, err)
	}
}

func TestRunValidatesArguments(t *testing.T) {
	ctx := context.Background()
	if err := run(ctx, nil, "postgres://x", zerolog.Nop()); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(ctx, []string{"sideways"}, "postgres://x", zerolog.Nop()); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(ctx, []string{"down", "-2"}, "postgres://x", zerolog.Nop()); err == nil {
		t.Fatal("expected error for negative steps")
	}
	if err := run(ctx, []string{"up"}, " ", zerolog.Nop()); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestRunUpWithMockConnection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	orig := openConn
	openConn = func(context.Context, string) (conn, func(), error) { return mock, mock.Close, nil }
	defer func() { openConn = orig }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	applied := pgxmock.NewRows([]string{"version"})
	for _, mig := range mustLoad(t) {
		applied.AddRow(mig.Version)
	}
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(applied)

	if err := run(context.Background(), []string{"up"}, "postgres://x", zerolog.Nop()); err != nil {
		t.Fatalf("run up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func mustLoad(t *testing.T) []migration {
	t.Helper()
	ms, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	return ms
}
