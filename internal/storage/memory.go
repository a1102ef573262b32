package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps sealed blobs in a map. Used in tests and for running
// without Postgres.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryBackend) ReadBlob(ctx context.Context, walletID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[walletID]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (m *MemoryBackend) WriteBlob(ctx context.Context, walletID string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	m.blobs[walletID] = stored
	return nil
}

func (m *MemoryBackend) DeleteBlob(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, walletID)
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
