package trust

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory entity store for demo/development mode.
type MemoryStore struct {
	entities map[string]*Entity
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory entity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]*Entity),
	}
}

func (m *MemoryStore) Create(ctx context.Context, entity *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[entity.ID]; ok {
		return ErrEntityExists
	}
	cp := *entity
	m.entities[entity.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entity, ok := m.entities[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	cp := *entity
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, entity *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[entity.ID]; !ok {
		return ErrEntityNotFound
	}
	cp := *entity
	m.entities[entity.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		cp := *e
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
