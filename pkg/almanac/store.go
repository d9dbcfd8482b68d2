package almanac

import (
	"context"
	"sync"
)

// Store persists almanac records and name bindings.
type Store interface {
	// GetRecord returns the record for address, or nil when absent.
	GetRecord(ctx context.Context, address string) (*Record, error)
	// PutRecord stores rec when its sequence is greater than the stored one. It returns the
	// record now held by the store and whether rec was written.
	PutRecord(ctx context.Context, rec *Record) (*Record, bool, error)
	// GetName returns the address bound to name, or "" when unbound.
	GetName(ctx context.Context, name string) (string, error)
	PutName(ctx context.Context, req RegisterNameRequest) error
	Ping(ctx context.Context) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	names   map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		names:   make(map[string]string),
	}
}

func (s *MemoryStore) GetRecord(_ context.Context, address string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[address]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) PutRecord(_ context.Context, rec *Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[rec.Address]; ok && cur.Sequence >= rec.Sequence {
		return cloneRecord(cur), false, nil
	}
	s.records[rec.Address] = cloneRecord(rec)
	return cloneRecord(rec), true, nil
}

func (s *MemoryStore) GetName(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names[name], nil
}

func (s *MemoryStore) PutName(_ context.Context, req RegisterNameRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[req.Name] = req.Address
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Endpoints = append(c.Endpoints[:0:0], r.Endpoints...)
	c.Protocols = append(c.Protocols[:0:0], r.Protocols...)
	return &c
}
