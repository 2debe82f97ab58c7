package keystore

import (
	"context"
	"sync"

	"recall254/go-core/pkg/models"
)

type MemoryStore struct {
	mu  sync.RWMutex
	rec *models.KeyRecord
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(ctx context.Context) (*models.KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec == nil {
		return nil, ErrNotFound
	}
	return CloneRecord(m.rec), nil
}

func (m *MemoryStore) Save(ctx context.Context, rec *models.KeyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = CloneRecord(rec)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = nil
	return nil
}
