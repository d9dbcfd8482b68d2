package almanac

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/morezero/agent-router/pkg/db"
	"github.com/morezero/agent-router/pkg/endpoint"
)

const repoStoreLogPrefix = "almanac:repository_store"

// RepositoryStore is a Store backed by the Postgres repository.
type RepositoryStore struct {
	repo *db.Repository
}

// NewRepositoryStore wraps repo as a Store.
func NewRepositoryStore(repo *db.Repository) *RepositoryStore {
	return &RepositoryStore{repo: repo}
}

func (s *RepositoryStore) GetRecord(ctx context.Context, address string) (*Record, error) {
	row, err := s.repo.GetRecord(ctx, address)
	if err != nil || row == nil {
		return nil, err
	}
	return recordFromRow(row)
}

func (s *RepositoryStore) PutRecord(ctx context.Context, rec *Record) (*Record, bool, error) {
	eps, err := json.Marshal(rec.Endpoints)
	if err != nil {
		return nil, false, fmt.Errorf("%s - encode endpoints: %w", repoStoreLogPrefix, err)
	}
	row, applied, err := s.repo.UpsertRecord(ctx, db.UpsertRecordParams{
		Address:   rec.Address,
		Endpoints: eps,
		Protocols: rec.Protocols,
		Sequence:  rec.Sequence,
		Expiry:    rec.Expiry,
	})
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, applied, nil
	}
	stored, err := recordFromRow(row)
	return stored, applied, err
}

func (s *RepositoryStore) GetName(ctx context.Context, name string) (string, error) {
	b, err := s.repo.GetName(ctx, name)
	if err != nil || b == nil {
		return "", err
	}
	return b.Address, nil
}

func (s *RepositoryStore) PutName(ctx context.Context, req RegisterNameRequest) error {
	var owner *string
	if req.Owner != "" {
		owner = &req.Owner
	}
	_, err := s.repo.UpsertName(ctx, db.UpsertNameParams{Name: req.Name, Address: req.Address, Owner: owner})
	return err
}

func (s *RepositoryStore) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func recordFromRow(row *db.AgentRecord) (*Record, error) {
	var eps []endpoint.Endpoint
	if len(row.Endpoints) > 0 {
		if err := json.Unmarshal(row.Endpoints, &eps); err != nil {
			return nil, fmt.Errorf("%s - decode endpoints for %s: %w", repoStoreLogPrefix, row.Address, err)
		}
	}
	return &Record{
		Address:   row.Address,
		Endpoints: eps,
		Protocols: row.Protocols,
		Sequence:  row.Sequence,
		Expiry:    row.Expiry,
		Updated:   row.Modified,
	}, nil
}
