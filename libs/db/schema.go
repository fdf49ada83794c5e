package db

import (
	"context"
	"fmt"
)

// ColumnExists reports whether table.column exists in the current schema.
// Deployments that predate a migration are detected once at startup with this
// instead of reacting to "column does not exist" errors at query time.
func (p *Pool) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := p.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_schema = current_schema()
				AND table_name = $1
				AND column_name = $2
		)
	`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe %s.%s: %w", table, column, err)
	}
	return exists, nil
}
