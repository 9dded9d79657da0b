package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations holds the schema in apply order. Each file registers one step named after itself.
var Migrations = migrate.NewMigrations()

func execSQL(statement string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, statement)
		return err
	}
}
