package scopes

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; each statement is idempotent so startup
// can run them unconditionally against PostgreSQL or SQLite.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS scope_documents (
		name VARCHAR(255) PRIMARY KEY,
		document TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scope_versions (
		name VARCHAR(255) PRIMARY KEY,
		version BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scope_group_mappings (
		scope_name VARCHAR(255) NOT NULL,
		group_name VARCHAR(255) NOT NULL,
		PRIMARY KEY (scope_name, group_name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scope_group_mappings_group ON scope_group_mappings(group_name)`,
}

// Migrate creates the scope schema if it does not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply scope migration %d: %w", i, err)
		}
	}
	return nil
}
