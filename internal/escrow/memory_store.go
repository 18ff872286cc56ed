package escrow

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory escrow account store for demo/development
// mode.
type MemoryStore struct {
	accounts map[string]*Account
	byTx     map[string]string
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byTx:     make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTx[account.TransactionID]; ok {
		return ErrAccountExists
	}
	m.accounts[account.ID] = copyAccount(account)
	m.byTx[account.TransactionID] = account.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (m *MemoryStore) GetByTransaction(ctx context.Context, transactionID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTx[transactionID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return copyAccount(m.accounts[id]), nil
}

func (m *MemoryStore) UpdateIf(ctx context.Context, account *Account, expect Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.accounts[account.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if current.Status != expect {
		return ErrStatusChanged
	}
	m.accounts[account.ID] = copyAccount(account)
	return nil
}

func copyAccount(a *Account) *Account {
	cp := *a
	if a.FundedAt != nil {
		t := *a.FundedAt
		cp.FundedAt = &t
	}
	if a.HeldAt != nil {
		t := *a.HeldAt
		cp.HeldAt = &t
	}
	if a.ReleasedAt != nil {
		t := *a.ReleasedAt
		cp.ReleasedAt = &t
	}
	if a.RefundedAt != nil {
		t := *a.RefundedAt
		cp.RefundedAt = &t
	}
	return &cp
}
