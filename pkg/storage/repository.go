package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/morezero/agent-router/pkg/db"
)

// RepositoryKV stores values in the agent_storage table, scoped to one owner address.
// Row-level upserts serialise concurrent writers.
type RepositoryKV struct {
	repo  *db.Repository
	owner string
}

// NewRepositoryKV creates a KV over repo for owner.
func NewRepositoryKV(repo *db.Repository, owner string) *RepositoryKV {
	return &RepositoryKV{repo: repo, owner: owner}
}

func (r *RepositoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, err := r.repo.GetStorage(ctx, r.owner, key)
	if err != nil {
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (r *RepositoryKV) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("storage: value for %s is not valid JSON", key)
	}
	return r.repo.SetStorage(ctx, r.owner, key, value)
}

func (r *RepositoryKV) Delete(ctx context.Context, key string) error {
	return r.repo.DeleteStorage(ctx, r.owner, key)
}
