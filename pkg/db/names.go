package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const namesLogPrefix = "db:names"

// GetName retrieves a name binding. Returns nil, nil when the name is unbound.
func (r *Repository) GetName(ctx context.Context, name string) (*NameBinding, error) {
	slog.Debug(fmt.Sprintf("%s - GetName name=%s", namesLogPrefix, name))

	var n NameBinding
	err := r.pool.QueryRow(ctx,
		`SELECT name, address, owner, created, modified
		 FROM almanac_names
		 WHERE name = $1
		 LIMIT 1`, name,
	).Scan(&n.Name, &n.Address, &n.Owner, &n.Created, &n.Modified)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - GetName failed: %w", namesLogPrefix, err)
	}
	return &n, nil
}

// UpsertName binds a name to an address, replacing any previous binding.
func (r *Repository) UpsertName(ctx context.Context, params UpsertNameParams) (*NameBinding, error) {
	slog.Info(fmt.Sprintf("%s - UpsertName name=%s address=%s", namesLogPrefix, params.Name, params.Address))

	now := time.Now().UTC()
	var n NameBinding
	err := r.pool.QueryRow(ctx,
		`INSERT INTO almanac_names (name, address, owner, created, modified)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (name) DO UPDATE SET
		   address = EXCLUDED.address,
		   owner = COALESCE(EXCLUDED.owner, almanac_names.owner),
		   modified = EXCLUDED.modified
		 RETURNING name, address, owner, created, modified`,
		params.Name, params.Address, params.Owner, now,
	).Scan(&n.Name, &n.Address, &n.Owner, &n.Created, &n.Modified)
	if err != nil {
		return nil, fmt.Errorf("%s - UpsertName failed: %w", namesLogPrefix, err)
	}
	return &n, nil
}

// ListNames returns all name bindings ordered by name.
func (r *Repository) ListNames(ctx context.Context) ([]NameBinding, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, address, owner, created, modified
		 FROM almanac_names
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListNames failed: %w", namesLogPrefix, err)
	}
	defer rows.Close()

	var out []NameBinding
	for rows.Next() {
		var n NameBinding
		if err := rows.Scan(&n.Name, &n.Address, &n.Owner, &n.Created, &n.Modified); err != nil {
			return nil, fmt.Errorf("%s - ListNames scan failed: %w", namesLogPrefix, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
