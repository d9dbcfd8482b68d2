package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const storageLogPrefix = "db:storage"

// GetStorage returns the stored value for (owner, key). Returns nil, nil when absent.
func (r *Repository) GetStorage(ctx context.Context, owner, key string) (*StorageEntry, error) {
	var e StorageEntry
	err := r.pool.QueryRow(ctx,
		`SELECT owner, key, value, modified
		 FROM agent_storage
		 WHERE owner = $1 AND key = $2`, owner, key,
	).Scan(&e.Owner, &e.Key, &e.Value, &e.Modified)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - GetStorage failed: %w", storageLogPrefix, err)
	}
	return &e, nil
}

// SetStorage writes value for (owner, key). The value must be valid JSON.
func (r *Repository) SetStorage(ctx context.Context, owner, key string, value []byte) error {
	slog.Debug(fmt.Sprintf("%s - SetStorage owner=%s key=%s", storageLogPrefix, owner, key))

	_, err := r.pool.Exec(ctx,
		`INSERT INTO agent_storage (owner, key, value, modified)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner, key) DO UPDATE SET
		   value = EXCLUDED.value,
		   modified = EXCLUDED.modified`,
		owner, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%s - SetStorage failed: %w", storageLogPrefix, err)
	}
	return nil
}

// DeleteStorage removes (owner, key). Deleting an absent key is not an error.
func (r *Repository) DeleteStorage(ctx context.Context, owner, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM agent_storage WHERE owner = $1 AND key = $2`, owner, key)
	if err != nil {
		return fmt.Errorf("%s - DeleteStorage failed: %w", storageLogPrefix, err)
	}
	return nil
}
