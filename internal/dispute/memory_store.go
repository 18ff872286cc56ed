package dispute

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory dispute store for demo/development mode.
type MemoryStore struct {
	disputes map[string]*Dispute
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disputes: make(map[string]*Dispute)}
}

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disputes[d.ID] = copyDispute(d)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return copyDispute(d), nil
}

func (m *MemoryStore) GetActiveByTransaction(ctx context.Context, transactionID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.disputes {
		if d.TransactionID == transactionID && d.Status.Active() {
			return copyDispute(d), nil
		}
	}
	return nil, ErrDisputeNotFound
}

func (m *MemoryStore) UpdateIf(ctx context.Context, d *Dispute, expectStatus Status, expectStage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.disputes[d.ID]
	if !ok {
		return ErrDisputeNotFound
	}
	if current.Status != expectStatus || current.Stage != expectStage {
		return ErrStateChanged
	}
	m.disputes[d.ID] = copyDispute(d)
	return nil
}

func (m *MemoryStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Dispute
	for _, d := range m.disputes {
		if d.TransactionID == transactionID {
			result = append(result, copyDispute(d))
		}
	}
	return result, nil
}

func (m *MemoryStore) ListEvidenceExpired(ctx context.Context, now time.Time, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Dispute
	for _, d := range m.disputes {
		if !d.Status.Active() {
			continue
		}
		if (d.Stage == StageCreated || d.Stage == StageEvidenceCollection) && now.After(d.EvidenceDeadline) {
			result = append(result, copyDispute(d))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListSLAExpired(ctx context.Context, now time.Time, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Dispute
	for _, d := range m.disputes {
		if d.Status.Active() && !d.ManualReview && now.After(d.SLADeadline) {
			result = append(result, copyDispute(d))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func copyDispute(d *Dispute) *Dispute {
	cp := *d
	if d.Evidence != nil {
		cp.Evidence = append([]Evidence(nil), d.Evidence...)
	}
	if d.Verdict != nil {
		v := *d.Verdict
		cp.Verdict = &v
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
