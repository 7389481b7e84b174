package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("document not found")

// DocumentStore is a key-value store of JSON documents. Each Put replaces
// the whole document in one write; last writer wins.
type DocumentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
	Name() string
}

// GetJSON decodes the document at key into v. found is false when the key
// does not exist.
func GetJSON(ctx context.Context, s DocumentStore, key string, v any) (found bool, err error) {
	b, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func PutJSON(ctx context.Context, s DocumentStore, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Put(ctx, key, b); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// MemoryStore keeps documents in process. It is the default backend and the
// one used in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Name() string { return "memory" }
