package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed schema_sqlite.sql
var sqliteSchema string

// Migrate brings the schema up to date. On Postgres the migrate driver keeps
// a connection of the pool checked out, so run it from short-lived processes
// (campaignctl migrate) rather than the long-running services.
func (s *Store) Migrate(ctx context.Context) error {
	if !s.postgres {
		if _, err := s.DB.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
		return nil
	}

	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return err
	}
	drv, err := migratepgx.WithInstance(s.DB.DB, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
