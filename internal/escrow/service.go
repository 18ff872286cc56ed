package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/ITDevS919/trustverify/internal/idgen"
	"github.com/ITDevS919/trustverify/internal/logging"
	"github.com/ITDevS919/trustverify/internal/metrics"
	"github.com/ITDevS919/trustverify/internal/syncutil"
	"github.com/ITDevS919/trustverify/internal/transactions"
)

// DisputeChecker reports whether a transaction has an active dispute.
// Implemented by the dispute service; nil means no dispute tracking.
type DisputeChecker interface {
	HasActiveDispute(ctx context.Context, transactionID string) (bool, error)
}

// EventNotifier receives escrow lifecycle events. Delivery is the
// notifier's concern; nil disables outbound events.
type EventNotifier interface {
	EmitEscrowFunded(payerID, accountID, transactionID string, amount float64)
	EmitEscrowHeld(payeeID, accountID, transactionID string, amount float64)
	EmitEscrowReleased(payeeID, accountID, transactionID string, amount float64)
	EmitEscrowRefunded(payerID, accountID, transactionID, reason string)
}

// Service implements the escrow account lifecycle.
type Service struct {
	store     Store
	providers map[string]Provider
	txSvc     *transactions.Service
	disputes  DisputeChecker
	notifier  EventNotifier
	locks     syncutil.ShardedMutex
}

// NewService creates an escrow service.
func NewService(store Store, txSvc *transactions.Service, providers ...Provider) *Service {
	s := &Service{
		store:     store,
		providers: make(map[string]Provider),
		txSvc:     txSvc,
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// WithDisputeChecker adds active-dispute gating on release.
func (s *Service) WithDisputeChecker(d DisputeChecker) *Service {
	s.disputes = d
	return s
}

// WithNotifier adds outbound escrow lifecycle events.
func (s *Service) WithNotifier(n EventNotifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) provider(name string) (Provider, error) {
	if p, ok := s.providers[name]; ok {
		return p, nil
	}
	if p, ok := s.providers[DefaultProviderName]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no escrow provider registered for %q", name)
}

func conflict(id string, current Status, attempted Status) error {
	return &transactions.StateConflictError{
		Resource:  "escrow_account",
		ID:        id,
		Current:   string(current),
		Attempted: string(attempted),
	}
}

// Open creates an escrow account for a pending transaction and places the
// provider hold. At most one account per transaction.
func (s *Service) Open(ctx context.Context, transactionID, preference string) (*Account, error) {
	tx, err := s.txSvc.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != transactions.StatusPending {
		return nil, &transactions.StateConflictError{
			Resource:  "transaction",
			ID:        tx.ID,
			Current:   string(tx.Status),
			Attempted: "escrow",
		}
	}

	// Cheap existence check before involving the provider: a hold is a
	// real card authorization, so a duplicate Open should fail before any
	// money is touched.
	if existing, err := s.store.GetByTransaction(ctx, transactionID); err == nil {
		return nil, conflict(existing.ID, existing.Status, StatusCreated)
	} else if err != ErrAccountNotFound {
		return nil, err
	}

	providerName := SelectProvider(tx.RiskLevel, preference)
	provider, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}

	ref, err := provider.CreateHold(ctx, tx.Amount, tx.Currency, tx.BuyerID, tx.SellerID)
	if err != nil {
		return nil, fmt.Errorf("escrow provider hold failed: %w", err)
	}

	now := time.Now()
	account := &Account{
		ID:            idgen.WithPrefix("esc_"),
		TransactionID: tx.ID,
		PayerID:       tx.BuyerID,
		PayeeID:       tx.SellerID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        StatusCreated,
		ProviderName:  provider.Name(),
		ProviderRef:   ref,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, account); err != nil {
		// The hold is already live at the provider. Void it here, or the
		// authorization stays open with no account pointing at it.
		if rerr := provider.Refund(ctx, ref, "escrow account creation failed"); rerr != nil {
			logging.L(ctx).Error("failed to void hold after rejected escrow open",
				"provider", provider.Name(),
				"ref", ref,
				"transaction", transactionID,
				"error", rerr)
		}
		if err == ErrAccountExists {
			return nil, conflict(transactionID, "", StatusCreated)
		}
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(StatusCreated)).Inc()
	logging.L(ctx).Info("escrow account opened",
		"account", account.ID,
		"transaction", tx.ID,
		"provider", account.ProviderName)

	return account, nil
}

// transition applies a guarded status change on an account.
func (s *Service) transition(ctx context.Context, id string, to Status, mutate func(*Account)) (*Account, error) {
	account, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(account.Status, to) {
		return nil, conflict(account.ID, account.Status, to)
	}

	from := account.Status
	account.Status = to
	account.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(account)
	}

	if err := s.store.UpdateIf(ctx, account, from); err != nil {
		if err == ErrStatusChanged {
			current, gerr := s.store.Get(ctx, id)
			currentStatus := Status("unknown")
			if gerr == nil {
				currentStatus = current.Status
			}
			return nil, conflict(account.ID, currentStatus, to)
		}
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(to)).Inc()
	return account, nil
}

// Fund records that the payer's funds were secured with the provider.
func (s *Service) Fund(ctx context.Context, id string) (*Account, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.transition(ctx, id, StatusFunded, func(a *Account) {
		now := a.UpdatedAt
		a.FundedAt = &now
	})
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.EmitEscrowFunded(account.PayerID, account.ID, account.TransactionID, account.Amount)
	}
	return account, nil
}

// Hold moves funded escrow into the held state and marks the transaction
// as escrowed, opening its buffer window.
func (s *Service) Hold(ctx context.Context, id string) (*Account, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.transition(ctx, id, StatusHeld, func(a *Account) {
		now := a.UpdatedAt
		a.HeldAt = &now
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.txSvc.MarkEscrowed(ctx, account.TransactionID); err != nil {
		logging.L(ctx).Warn("failed to mark transaction escrowed",
			"transaction", account.TransactionID, "error", err)
	}
	if s.notifier != nil {
		s.notifier.EmitEscrowHeld(account.PayeeID, account.ID, account.TransactionID, account.Amount)
	}
	return account, nil
}

// checkReleaseEligibility verifies every release clause against the current
// transaction and dispute state. Returns the first failing clause.
func (s *Service) checkReleaseEligibility(ctx context.Context, account *Account) error {
	tx, err := s.txSvc.Get(ctx, account.TransactionID)
	if err != nil {
		return err
	}
	if tx.Status != transactions.StatusEscrow {
		return &EligibilityError{
			Clause:  ClauseTransactionStatus,
			Message: fmt.Sprintf("transaction is %s, expected escrow", tx.Status),
		}
	}

	if s.disputes != nil {
		active, err := s.disputes.HasActiveDispute(ctx, account.TransactionID)
		if err != nil {
			return err
		}
		if active {
			return &EligibilityError{
				Clause:  ClauseActiveDispute,
				Message: "transaction has an active dispute",
			}
		}
	}

	if tx.BufferUntil != nil && time.Now().Before(*tx.BufferUntil) {
		return &EligibilityError{
			Clause:  ClauseBufferWindow,
			Message: fmt.Sprintf("buffer window open until %s", tx.BufferUntil.Format(time.RFC3339)),
		}
	}
	return nil
}

// Release pays out held funds to the payee. Every eligibility clause is
// checked before any state changes; a failing clause rejects the whole
// operation.
func (s *Service) Release(ctx context.Context, id string) (*Account, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Status != StatusHeld {
		return nil, conflict(account.ID, account.Status, StatusReleased)
	}

	if err := s.checkReleaseEligibility(ctx, account); err != nil {
		return nil, err
	}

	return s.release(ctx, account, nil)
}

// ReleaseForResolution pays out held funds as the outcome of a resolved
// dispute. Skips the eligibility clauses (the dispute is resolved, the
// transaction is disputed) but still enforces the state machine. A non-nil
// amount captures only that much; the provider returns the remainder to
// the payer.
func (s *Service) ReleaseForResolution(ctx context.Context, id string, amount *float64) (*Account, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Status != StatusHeld {
		return nil, conflict(account.ID, account.Status, StatusReleased)
	}
	return s.release(ctx, account, amount)
}

func (s *Service) release(ctx context.Context, account *Account, amount *float64) (*Account, error) {
	provider, err := s.provider(account.ProviderName)
	if err != nil {
		return nil, err
	}
	if err := provider.Release(ctx, account.ProviderRef, amount); err != nil {
		return nil, fmt.Errorf("escrow provider release failed: %w", err)
	}

	released, err := s.transition(ctx, account.ID, StatusReleased, func(a *Account) {
		now := a.UpdatedAt
		a.ReleasedAt = &now
	})
	if err != nil {
		return nil, err
	}

	if released.HeldAt != nil {
		metrics.EscrowHeldDuration.Observe(time.Since(*released.HeldAt).Seconds())
	}
	logging.L(ctx).Info("escrow released",
		"account", released.ID, "transaction", released.TransactionID)
	if s.notifier != nil {
		s.notifier.EmitEscrowReleased(released.PayeeID, released.ID, released.TransactionID, released.Amount)
	}
	return released, nil
}

// RefundForResolution returns held funds to the payer as the outcome of a
// resolved dispute.
func (s *Service) RefundForResolution(ctx context.Context, id, reason string) (*Account, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Status != StatusFunded && account.Status != StatusHeld {
		return nil, conflict(account.ID, account.Status, StatusRefunded)
	}

	provider, err := s.provider(account.ProviderName)
	if err != nil {
		return nil, err
	}
	if err := provider.Refund(ctx, account.ProviderRef, reason); err != nil {
		return nil, fmt.Errorf("escrow provider refund failed: %w", err)
	}

	refunded, err := s.transition(ctx, account.ID, StatusRefunded, func(a *Account) {
		now := a.UpdatedAt
		a.RefundedAt = &now
		a.RefundReason = reason
	})
	if err != nil {
		return nil, err
	}

	if refunded.HeldAt != nil {
		metrics.EscrowHeldDuration.Observe(time.Since(*refunded.HeldAt).Seconds())
	}
	logging.L(ctx).Info("escrow refunded",
		"account", refunded.ID, "transaction", refunded.TransactionID, "reason", reason)
	if s.notifier != nil {
		s.notifier.EmitEscrowRefunded(refunded.PayerID, refunded.ID, refunded.TransactionID, reason)
	}
	return refunded, nil
}

// Get returns an escrow account by ID.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.Get(ctx, id)
}

// GetByTransaction returns the escrow account for a transaction.
func (s *Service) GetByTransaction(ctx context.Context, transactionID string) (*Account, error) {
	return s.store.GetByTransaction(ctx, transactionID)
}

// ProviderStatus reports the provider-side state of the account's hold.
func (s *Service) ProviderStatus(ctx context.Context, id string) (string, error) {
	account, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	provider, err := s.provider(account.ProviderName)
	if err != nil {
		return "", err
	}
	return provider.Status(ctx, account.ProviderRef)
}
