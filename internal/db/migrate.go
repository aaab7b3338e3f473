package db

import (
	"context"
	"embed"

	"queryguard/internal/types"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the Postgres schema. Every statement is idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	b, err := schemaFS.ReadFile("schema/postgres.sql")
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, string(b)); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}
