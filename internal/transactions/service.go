package transactions

import (
	"context"
	"fmt"
	"time"

	"github.com/ITDevS919/trustverify/internal/idgen"
	"github.com/ITDevS919/trustverify/internal/logging"
	"github.com/ITDevS919/trustverify/internal/pagination"
	"github.com/ITDevS919/trustverify/internal/syncutil"
	"github.com/ITDevS919/trustverify/internal/trust"
)

// CreateRequest contains the parameters for creating a transaction.
type CreateRequest struct {
	BuyerID       string  `json:"buyerId" binding:"required"`
	SellerID      string  `json:"sellerId" binding:"required"`
	Amount        float64 `json:"amount" binding:"required"`
	Currency      string  `json:"currency"`
	PaymentMethod string  `json:"paymentMethod"`
	Description   string  `json:"description"`
}

// Service implements the transaction lifecycle.
type Service struct {
	store        Store
	trustSvc     *trust.Service
	bufferWindow time.Duration
	locks        syncutil.ShardedMutex
}

// NewService creates a transaction service. bufferWindow is how long after
// completion a transaction stays open to disputes (and how long escrowed
// funds are buffered before release).
func NewService(store Store, trustSvc *trust.Service, bufferWindow time.Duration) *Service {
	if bufferWindow <= 0 {
		bufferWindow = 72 * time.Hour
	}
	return &Service{
		store:        store,
		trustSvc:     trustSvc,
		bufferWindow: bufferWindow,
	}
}

// BufferWindow returns the configured dispute/release buffer.
func (s *Service) BufferWindow() time.Duration { return s.bufferWindow }

// Create scores the buyer against the transaction context and records the
// new transaction with its escrow recommendation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	assessment, err := s.trustSvc.ScoreEntity(ctx, req.BuyerID, trust.FactorContext{
		TransactionAmount: req.Amount,
		PaymentMethod:     req.PaymentMethod,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.trustSvc.GetEntity(ctx, req.SellerID); err != nil {
		return nil, err
	}

	recommended, reason := RecommendEscrow(assessment.RiskLevel, req.Amount)

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now()
	tx := &Transaction{
		ID:                idgen.WithPrefix("txn_"),
		BuyerID:           req.BuyerID,
		SellerID:          req.SellerID,
		Amount:            req.Amount,
		Currency:          currency,
		PaymentMethod:     req.PaymentMethod,
		Description:       req.Description,
		Status:            StatusPending,
		RiskScore:         assessment.Score,
		RiskLevel:         assessment.RiskLevel,
		EscrowRecommended: recommended,
		EscrowReason:      reason,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	logging.L(ctx).Info("transaction created",
		"transaction", tx.ID,
		"amount", tx.Amount,
		"risk_level", tx.RiskLevel,
		"escrow_recommended", tx.EscrowRecommended)

	return tx, nil
}

// transition applies a guarded status change. mutate runs after the guard
// passes and before the conditional write.
func (s *Service) transition(ctx context.Context, id string, to Status, mutate func(*Transaction)) (*Transaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(tx.Status, to) {
		return nil, &StateConflictError{
			Resource:  "transaction",
			ID:        tx.ID,
			Current:   string(tx.Status),
			Attempted: string(to),
		}
	}

	from := tx.Status
	tx.Status = to
	tx.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(tx)
	}

	if err := s.store.UpdateIf(ctx, tx, from); err != nil {
		if err == ErrStatusChanged {
			current, gerr := s.store.Get(ctx, id)
			currentStatus := "unknown"
			if gerr == nil {
				currentStatus = string(current.Status)
			}
			return nil, &StateConflictError{
				Resource:  "transaction",
				ID:        tx.ID,
				Current:   currentStatus,
				Attempted: string(to),
			}
		}
		return nil, err
	}
	return tx, nil
}

// MarkEscrowed moves a pending transaction into escrow and opens the
// release buffer window.
func (s *Service) MarkEscrowed(ctx context.Context, id string) (*Transaction, error) {
	return s.transition(ctx, id, StatusEscrow, func(tx *Transaction) {
		until := tx.UpdatedAt.Add(s.bufferWindow)
		tx.BufferUntil = &until
	})
}

// Complete finalizes a transaction and opens the dispute window.
func (s *Service) Complete(ctx context.Context, id string) (*Transaction, error) {
	tx, err := s.transition(ctx, id, StatusCompleted, func(tx *Transaction) {
		now := tx.UpdatedAt
		tx.CompletedAt = &now
		deadline := now.Add(s.bufferWindow)
		tx.DisputeDeadline = &deadline
	})
	if err != nil {
		return nil, err
	}

	if err := s.trustSvc.RecordTransactionOutcome(ctx, tx.BuyerID, true, false); err != nil {
		logging.L(ctx).Warn("failed to record buyer outcome", "entity", tx.BuyerID, "error", err)
	}
	if err := s.trustSvc.RecordTransactionOutcome(ctx, tx.SellerID, true, false); err != nil {
		logging.L(ctx).Warn("failed to record seller outcome", "entity", tx.SellerID, "error", err)
	}
	return tx, nil
}

// MarkDisputed flags a transaction as contested. Called by the dispute
// service when a dispute opens.
func (s *Service) MarkDisputed(ctx context.Context, id string) (*Transaction, error) {
	return s.transition(ctx, id, StatusDisputed, nil)
}

// ResolveCompleted settles a disputed transaction in the seller's favor.
func (s *Service) ResolveCompleted(ctx context.Context, id string) (*Transaction, error) {
	return s.transition(ctx, id, StatusCompleted, func(tx *Transaction) {
		if tx.CompletedAt == nil {
			now := tx.UpdatedAt
			tx.CompletedAt = &now
		}
	})
}

// ResolveRefunded settles a disputed transaction in the buyer's favor.
func (s *Service) ResolveRefunded(ctx context.Context, id string) (*Transaction, error) {
	tx, err := s.transition(ctx, id, StatusRefunded, nil)
	if err != nil {
		return nil, err
	}
	if err := s.trustSvc.RecordTransactionOutcome(ctx, tx.SellerID, false, true); err != nil {
		logging.L(ctx).Warn("failed to record seller dispute outcome", "entity", tx.SellerID, "error", err)
	}
	return tx, nil
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// ListByEntity returns transactions where the entity is buyer or seller,
// newest first. An empty cursor starts from the top; the returned cursor is
// empty when no further page exists.
func (s *Service) ListByEntity(ctx context.Context, entityID string, limit int, cursor string) ([]*Transaction, string, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}

	// Fetch one extra row to detect whether another page exists.
	txs, err := s.store.ListByEntity(ctx, entityID, limit+1, cur)
	if err != nil {
		return nil, "", err
	}

	page, next, _ := pagination.ComputePage(txs, limit, func(tx *Transaction) (time.Time, string) {
		return tx.CreatedAt, tx.ID
	})
	return page, next, nil
}
