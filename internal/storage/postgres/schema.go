package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the tables and indexes if they do not exist. The
// uniqueness constraints it declares are load-bearing: sequence conflict
// retry and the task upsert discipline depend on them.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
