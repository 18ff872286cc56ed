package checks

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory check store for demo/development mode.
type MemoryStore struct {
	checks map[string]*Check
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory check store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checks: make(map[string]*Check)}
}

func (m *MemoryStore) CreateBatch(ctx context.Context, checks []*Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range checks {
		m.checks[c.ID] = copyCheck(c)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.checks[id]
	if !ok {
		return nil, ErrCheckNotFound
	}
	return copyCheck(c), nil
}

func (m *MemoryStore) Update(ctx context.Context, check *Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.checks[check.ID]; !ok {
		return ErrCheckNotFound
	}
	m.checks[check.ID] = copyCheck(check)
	return nil
}

func (m *MemoryStore) ListByApplication(ctx context.Context, applicationID string) ([]*Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Check
	for _, c := range m.checks {
		if c.ApplicationID == applicationID {
			result = append(result, copyCheck(c))
		}
	}
	return result, nil
}

// copyCheck returns a deep copy so callers never share slice backing arrays
// with the stored record.
func copyCheck(c *Check) *Check {
	cp := *c
	if c.Signals != nil {
		cp.Signals = make([]string, len(c.Signals))
		copy(cp.Signals, c.Signals)
	}
	if c.RawResponse != nil {
		cp.RawResponse = make([]byte, len(c.RawResponse))
		copy(cp.RawResponse, c.RawResponse)
	}
	if c.Score != nil {
		score := *c.Score
		cp.Score = &score
	}
	if c.CompletedAt != nil {
		completed := *c.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}
