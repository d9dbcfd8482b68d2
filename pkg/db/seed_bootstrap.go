// Package db provides bootstrap-based seeding of almanac name bindings.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/agent-router/pkg/address"
	"github.com/morezero/agent-router/pkg/bootstrap"
)

const seedBootstrapLogPrefix = "db:seed_bootstrap"

// SeedBootstrap loads bootstrap config from the given path and writes its name bindings
// into almanac_names. Idempotent: existing names are rebound to the configured address.
// Bindings whose address is not a valid agent address are skipped.
func SeedBootstrap(ctx context.Context, pool *pgxpool.Pool, bootstrapFilePath string) (int, error) {
	slog.Info(fmt.Sprintf("%s - seeding from %s", seedBootstrapLogPrefix, bootstrapFilePath))

	cfg, err := bootstrap.LoadBootstrapConfig(bootstrapFilePath)
	if err != nil {
		return 0, fmt.Errorf("%s - load bootstrap config: %w", seedBootstrapLogPrefix, err)
	}
	if cfg == nil || len(cfg.Names) == 0 {
		slog.Info(fmt.Sprintf("%s - no names to seed", seedBootstrapLogPrefix))
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s - begin tx: %w", seedBootstrapLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	seeded := 0
	for _, name := range bootstrap.CreateResolvedBootstrap(cfg).Names() {
		addr := cfg.Names[name]
		if err := address.Validate(addr); err != nil {
			slog.Warn(fmt.Sprintf("%s - skip name %q: %v", seedBootstrapLogPrefix, name, err))
			continue
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO almanac_names (name, address, created, modified)
			 VALUES ($1, $2, $3, $3)
			 ON CONFLICT (name) DO UPDATE SET
			   address = EXCLUDED.address,
			   modified = EXCLUDED.modified`,
			name, addr, now)
		if err != nil {
			return seeded, fmt.Errorf("%s - insert name %s: %w", seedBootstrapLogPrefix, name, err)
		}
		seeded++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s - commit: %w", seedBootstrapLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - seeded %d names", seedBootstrapLogPrefix, seeded))
	return seeded, nil
}
