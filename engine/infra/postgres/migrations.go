package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pubflow/pubflow/pkg/logger"

	// Register pgx stdlib driver for database/sql usage in migrations.
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps the base FS in package state, so concurrent callers in one
// process have to serialize.
var gooseMu sync.Mutex

// Both halves of the advisory lock key, hashed server-side via hashtext.
const (
	lockNamespace = "pubflow"
	lockName      = "migrations"
)

const lockTimeout = 45 * time.Second

// ApplyMigrations runs the embedded SQL migrations with goose. The DSN must
// be usable by database/sql through the pgx stdlib driver.
func ApplyMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()
	return runMigrations(ctx, db)
}

// ApplyMigrationsWithLock wraps ApplyMigrations in a Postgres advisory lock
// so workers started at the same time do not run goose concurrently. The
// lock lives on a dedicated connection and is released when the migration
// finishes or the context is canceled.
func ApplyMigrationsWithLock(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire dedicated connection: %w", err)
	}
	defer conn.Close()
	unlock, err := acquireMigrationLock(ctx, conn)
	if err != nil {
		return err
	}
	defer unlock()
	return runMigrations(ctx, db)
}

func acquireMigrationLock(ctx context.Context, conn *sql.Conn) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	if _, err := conn.ExecContext(
		lockCtx,
		"select pg_advisory_lock(hashtext($1), hashtext($2))",
		lockNamespace,
		lockName,
	); err != nil {
		return nil, fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	unlock := func() {
		if _, err := conn.ExecContext(
			context.WithoutCancel(ctx),
			"select pg_advisory_unlock(hashtext($1), hashtext($2))",
			lockNamespace,
			lockName,
		); err != nil {
			logger.FromContext(ctx).Warn("failed to release migration advisory lock", "error", err)
		}
	}
	return unlock, nil
}

func runMigrations(_ context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
