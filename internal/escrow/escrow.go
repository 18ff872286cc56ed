// Package escrow manages held funds for transactions.
//
// An account moves created → funded → held → released | refunded. Release
// and refund are mutually exclusive terminal transitions. Every transition
// is an optimistic check-then-set: a race between, say, a manual release
// and a dispute-triggered freeze resolves with exactly one winner and a
// conflict error for the loser.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ITDevS919/trustverify/internal/trust"
)

var (
	ErrAccountNotFound = errors.New("escrow account not found")
	ErrAccountExists   = errors.New("transaction already has an escrow account")
	// ErrStatusChanged is returned by stores when the expected pre-state no
	// longer matches; the service wraps it in a StateConflictError.
	ErrStatusChanged = errors.New("escrow status changed concurrently")
)

// Status is the lifecycle state of an escrow account.
type Status string

const (
	StatusCreated  Status = "created"
	StatusFunded   Status = "funded"
	StatusHeld     Status = "held"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
)

var validTransitions = map[Status][]Status{
	StatusCreated: {StatusFunded},
	StatusFunded:  {StatusHeld, StatusRefunded},
	StatusHeld:    {StatusReleased, StatusRefunded},
}

// CanTransition reports whether moving from one status to another is legal.
// Released and refunded are terminal.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Eligibility clauses reported by EligibilityError.
const (
	ClauseTransactionStatus = "transaction_status"
	ClauseActiveDispute     = "active_dispute"
	ClauseBufferWindow      = "buffer_window"
)

// EligibilityError reports the specific release-eligibility clause that
// failed. State machine violations are StateConflictErrors instead.
type EligibilityError struct {
	Clause  string
	Message string
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("release not eligible (%s): %s", e.Clause, e.Message)
}

// Account holds funds for exactly one transaction.
type Account struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transactionId"`
	PayerID       string  `json:"payerId"`
	PayeeID       string  `json:"payeeId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`

	Status       Status `json:"status"`
	ProviderName string `json:"provider"`
	ProviderRef  string `json:"providerRef,omitempty"`
	RefundReason string `json:"refundReason,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FundedAt   *time.Time `json:"fundedAt,omitempty"`
	HeldAt     *time.Time `json:"heldAt,omitempty"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
	RefundedAt *time.Time `json:"refundedAt,omitempty"`
}

// Terminal reports whether the account reached a final state.
func (a *Account) Terminal() bool {
	return a.Status == StatusReleased || a.Status == StatusRefunded
}

// Provider moves real money on behalf of an escrow account.
type Provider interface {
	Name() string
	// CreateHold authorizes the amount without capturing it and returns an
	// opaque provider reference.
	CreateHold(ctx context.Context, amount float64, currency, payerID, payeeID string) (string, error)
	// Release captures the held amount (or a partial amount when non-nil)
	// for the payee.
	Release(ctx context.Context, ref string, amount *float64) error
	// Refund returns the held amount to the payer.
	Refund(ctx context.Context, ref, reason string) error
	// Status reports the provider-side state of the hold.
	Status(ctx context.Context, ref string) (string, error)
}

// DefaultProviderName is used when no preference applies.
const DefaultProviderName = "simulated"

// SelectProvider picks the provider for a transaction. Pure function of
// risk tier and explicit preference: preference always wins, elevated risk
// routes to the managed provider, everything else takes the default.
func SelectProvider(riskLevel trust.RiskLevel, preference string) string {
	if preference != "" {
		return preference
	}
	if riskLevel == trust.RiskHigh || riskLevel == trust.RiskCritical {
		return "stripe"
	}
	return DefaultProviderName
}

// Store persists escrow accounts. Create must reject a second account for
// the same transaction with ErrAccountExists. UpdateIf writes only when
// the stored status still matches expect, otherwise it returns
// ErrStatusChanged.
type Store interface {
	Create(ctx context.Context, account *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByTransaction(ctx context.Context, transactionID string) (*Account, error)
	UpdateIf(ctx context.Context, account *Account, expect Status) error
}
