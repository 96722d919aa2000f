package vectorstore

import (
	"context"
	"sync"
)

// Backend is the durable side of the store: load-all-on-start plus
// write-through puts and deletes. The in-memory index is the source of truth
// for queries; the backend only has to survive restarts.
type Backend interface {
	// Load returns every persisted record
	Load(ctx context.Context) ([]Record, error)

	// Put durably stores a record, replacing any prior record with its ID
	Put(ctx context.Context, rec Record) error

	// Delete durably removes a record; absent IDs are a no-op
	Delete(ctx context.Context, id string) error

	// Close releases backend resources
	Close() error
}

// Memory is a non-durable backend for development and tests. Contents
// survive only as long as the process.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemory creates an empty in-process backend
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Load(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec.clone())
	}
	return records, nil
}

func (m *Memory) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID()] = rec.clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Len reports how many records the backend holds
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
