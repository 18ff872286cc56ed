// Package transactions manages buyer/seller transaction records.
//
// A transaction moves pending → escrow → completed | disputed | refunded.
// The disputed branch is the only non-monotonic one: dispute resolution can
// move a disputed transaction back to completed or on to refunded. Every
// transition is an optimistic check-then-set so racing actors cannot both
// win.
package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ITDevS919/trustverify/internal/pagination"
	"github.com/ITDevS919/trustverify/internal/trust"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	// errStatusChanged is returned by stores when the expected pre-state no
	// longer matches; the service wraps it in a StateConflictError.
	ErrStatusChanged = errors.New("transaction status changed concurrently")
)

// StateConflictError reports a transition attempted from the wrong state.
// Callers should re-read the resource and retry or give up.
type StateConflictError struct {
	Resource  string
	ID        string
	Current   string
	Attempted string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition from %s to %s",
		e.Resource, e.ID, e.Current, e.Attempted)
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEscrow    Status = "escrow"
	StatusCompleted Status = "completed"
	StatusDisputed  Status = "disputed"
	StatusRefunded  Status = "refunded"
)

var validTransitions = map[Status][]Status{
	StatusPending:   {StatusEscrow, StatusCompleted},
	StatusEscrow:    {StatusCompleted, StatusDisputed},
	StatusCompleted: {StatusDisputed},
	StatusDisputed:  {StatusCompleted, StatusRefunded},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transaction is one buyer/seller exchange.
type Transaction struct {
	ID            string  `json:"id"`
	BuyerID       string  `json:"buyerId"`
	SellerID      string  `json:"sellerId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
	Description   string  `json:"description,omitempty"`

	Status            Status          `json:"status"`
	RiskScore         float64         `json:"riskScore"`
	RiskLevel         trust.RiskLevel `json:"riskLevel"`
	EscrowRecommended bool            `json:"escrowRecommended"`
	EscrowReason      string          `json:"escrowReason,omitempty"`

	// BufferUntil gates escrow release; set when funds enter escrow.
	BufferUntil *time.Time `json:"bufferUntil,omitempty"`
	// DisputeDeadline is the last moment a dispute can be opened; set on
	// completion.
	DisputeDeadline *time.Time `json:"disputeDeadline,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Terminal reports whether the transaction reached a final state.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusRefunded ||
		(t.Status == StatusCompleted && t.DisputeDeadline != nil && time.Now().After(*t.DisputeDeadline))
}

// HighValueThreshold is the amount above which escrow is recommended
// regardless of risk tier.
const HighValueThreshold = 1000.0

// RecommendEscrow decides whether a transaction should be held in escrow.
// Pure function of risk tier and amount, evaluated in precedence order:
// elevated risk first, then amount combined with medium risk, then amount
// alone. Returns the matched branch for audit.
func RecommendEscrow(riskLevel trust.RiskLevel, amount float64) (bool, string) {
	switch {
	case riskLevel == trust.RiskHigh || riskLevel == trust.RiskCritical:
		return true, "elevated_risk"
	case amount > HighValueThreshold && riskLevel == trust.RiskMedium:
		return true, "high_value_medium_risk"
	case amount > HighValueThreshold:
		return true, "high_value"
	}
	return false, ""
}

// Store persists transactions. UpdateIf writes only when the stored status
// still matches expect, otherwise it returns ErrStatusChanged.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	UpdateIf(ctx context.Context, tx *Transaction, expect Status) error
	// ListByEntity returns transactions ordered by (created_at, id)
	// descending, starting strictly after cursor when non-nil.
	ListByEntity(ctx context.Context, entityID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error)
}
