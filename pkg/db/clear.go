// Package db provides almanac data clearing.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearAlmanac truncates the almanac tables (almanac_names, almanac_records) and the
// agent_storage table. Schema is preserved; only data is removed.
func ClearAlmanac(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing almanac tables", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE
		almanac_names,
		almanac_records,
		agent_storage
		CASCADE`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Almanac cleared", clearLogPrefix))
	return nil
}
