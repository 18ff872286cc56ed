package transactions

import (
	"context"
	"sort"
	"sync"

	"github.com/ITDevS919/trustverify/internal/pagination"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
type MemoryStore struct {
	txs map[string]*Transaction
	mu  sync.RWMutex
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*Transaction)}
}

func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.ID] = copyTransaction(tx)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

func (m *MemoryStore) UpdateIf(ctx context.Context, tx *Transaction, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.txs[tx.ID]
	if !ok {
		return ErrTransactionNotFound
	}
	if current.Status != expect {
		return ErrStatusChanged
	}
	m.txs[tx.ID] = copyTransaction(tx)
	return nil
}

func (m *MemoryStore) ListByEntity(ctx context.Context, entityID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Transaction
	for _, tx := range m.txs {
		if tx.BuyerID != entityID && tx.SellerID != entityID {
			continue
		}
		matched = append(matched, tx)
	}

	// Newest first, ID as tiebreaker for a stable cursor order.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	var result []*Transaction
	for _, tx := range matched {
		if cursor != nil {
			if tx.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if tx.CreatedAt.Equal(cursor.CreatedAt) && tx.ID >= cursor.ID {
				continue
			}
		}
		result = append(result, copyTransaction(tx))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func copyTransaction(tx *Transaction) *Transaction {
	cp := *tx
	if tx.BufferUntil != nil {
		t := *tx.BufferUntil
		cp.BufferUntil = &t
	}
	if tx.DisputeDeadline != nil {
		t := *tx.DisputeDeadline
		cp.DisputeDeadline = &t
	}
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
