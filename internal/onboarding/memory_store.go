package onboarding

import (
	"context"
	"sync"

	"github.com/ITDevS919/trustverify/internal/checks"
)

// MemoryStore is an in-memory application store for demo/development mode.
// Pending checks are delegated to the wrapped check store; both writes
// happen under one lock to mirror the transactional postgres behavior.
type MemoryStore struct {
	apps       map[string]*Application
	checkStore checks.Store
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory application store.
func NewMemoryStore(checkStore checks.Store) *MemoryStore {
	return &MemoryStore{
		apps:       make(map[string]*Application),
		checkStore: checkStore,
	}
}

func (m *MemoryStore) Create(ctx context.Context, app *Application, pending []*checks.Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkStore.CreateBatch(ctx, pending); err != nil {
		return err
	}
	m.apps[app.ID] = copyApplication(app)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.apps[id]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	return copyApplication(app), nil
}

func (m *MemoryStore) Update(ctx context.Context, app *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.apps[app.ID]; !ok {
		return ErrApplicationNotFound
	}
	m.apps[app.ID] = copyApplication(app)
	return nil
}

func (m *MemoryStore) ListByEntity(ctx context.Context, entityID string, limit int) ([]*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Application
	for _, a := range m.apps {
		if a.EntityID == entityID {
			result = append(result, copyApplication(a))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func copyApplication(a *Application) *Application {
	cp := *a
	if a.BeneficialOwners != nil {
		cp.BeneficialOwners = append([]string(nil), a.BeneficialOwners...)
	}
	if a.Directors != nil {
		cp.Directors = append([]string(nil), a.Directors...)
	}
	if a.OverallTrustScore != nil {
		score := *a.OverallTrustScore
		cp.OverallTrustScore = &score
	}
	if a.CompletedAt != nil {
		completed := *a.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}
