package db

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/odyssey-erp/orderflow/migrations"
)

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, dsn string) error {
	goose.SetBaseFS(migrations.FS)
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("platform/db: open migrations db: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("platform/db: migrate: %w", err)
	}
	return nil
}

// MigrationStatus logs the state of each migration through goose.
func MigrationStatus(ctx context.Context, dsn string) error {
	goose.SetBaseFS(migrations.FS)
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("platform/db: open migrations db: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.StatusContext(ctx, sqlDB, ".")
}
