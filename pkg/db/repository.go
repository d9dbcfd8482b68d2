package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// Repository provides database access for almanac and agent storage operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%s - Ping failed: %w", repoLogPrefix, err)
	}
	return nil
}

// =========================================================================
// AGENT RECORD OPERATIONS
// =========================================================================

// GetRecord finds the published record for an agent address. Returns nil, nil when absent.
func (r *Repository) GetRecord(ctx context.Context, address string) (*AgentRecord, error) {
	slog.Debug(fmt.Sprintf("%s - GetRecord address=%s", repoLogPrefix, address))

	row := r.pool.QueryRow(ctx,
		`SELECT address, endpoints, protocols, sequence, expiry, created, modified
		 FROM almanac_records
		 WHERE address = $1
		 LIMIT 1`, address)

	return scanRecord(row)
}

// UpsertRecord publishes a record. An existing record is replaced only when the new
// sequence is strictly greater; applied reports whether the row was written.
func (r *Repository) UpsertRecord(ctx context.Context, params UpsertRecordParams) (*AgentRecord, bool, error) {
	slog.Info(fmt.Sprintf("%s - UpsertRecord address=%s sequence=%d", repoLogPrefix, params.Address, params.Sequence))

	now := time.Now().UTC()
	protocols := params.Protocols
	if protocols == nil {
		protocols = []string{}
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO almanac_records (address, endpoints, protocols, sequence, expiry, created, modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (address) DO UPDATE SET
		   endpoints = EXCLUDED.endpoints,
		   protocols = EXCLUDED.protocols,
		   sequence = EXCLUDED.sequence,
		   expiry = EXCLUDED.expiry,
		   modified = EXCLUDED.modified
		 WHERE almanac_records.sequence < EXCLUDED.sequence
		 RETURNING address, endpoints, protocols, sequence, expiry, created, modified`,
		params.Address, params.Endpoints, protocols, params.Sequence, params.Expiry.UTC(), now)

	rec, err := scanRecord(row)
	if err != nil {
		return nil, false, fmt.Errorf("%s - UpsertRecord failed: %w", repoLogPrefix, err)
	}
	if rec == nil {
		// Conflict with a newer or equal sequence: nothing written.
		existing, err := r.GetRecord(ctx, params.Address)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return rec, true, nil
}

// DeleteExpiredRecords removes records whose expiry is before the given time.
func (r *Repository) DeleteExpiredRecords(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM almanac_records WHERE expiry < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s - DeleteExpiredRecords failed: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected(), nil
}

// =========================================================================
// SCAN HELPERS
// =========================================================================

func scanRecord(row pgx.Row) (*AgentRecord, error) {
	var rec AgentRecord
	err := row.Scan(
		&rec.Address, &rec.Endpoints, &rec.Protocols, &rec.Sequence,
		&rec.Expiry, &rec.Created, &rec.Modified,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan record failed: %w", repoLogPrefix, err)
	}
	return &rec, nil
}
