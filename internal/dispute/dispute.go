// Package dispute manages contested transactions.
//
// A dispute's status moves open → investigating → resolved | closed. Its
// workflow stage moves created → evidence_collection → ai_analysis →
// resolution and never backwards. Creation freezes the transaction's
// escrow; resolution (or closing) is the only way to unfreeze it.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ITDevS919/trustverify/internal/trust"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrStateChanged is returned by stores when the expected pre-state no
	// longer matches; the service wraps it in a StateConflictError.
	ErrStateChanged = errors.New("dispute state changed concurrently")
)

// Status is the lifecycle state of a dispute.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// Active reports whether the status blocks escrow release.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusInvestigating
}

// Stage is the position in the resolution workflow. Stages only move
// forward.
type Stage string

const (
	StageCreated            Stage = "created"
	StageEvidenceCollection Stage = "evidence_collection"
	StageAIAnalysis         Stage = "ai_analysis"
	StageResolution         Stage = "resolution"
)

var stageOrder = map[Stage]int{
	StageCreated:            0,
	StageEvidenceCollection: 1,
	StageAIAnalysis:         2,
	StageResolution:         3,
}

// CanAdvance reports whether moving from one stage to another goes
// forward. Skipping ahead is allowed; going back never is.
func CanAdvance(from, to Stage) bool {
	a, ok := stageOrder[from]
	if !ok {
		return false
	}
	b, ok := stageOrder[to]
	if !ok {
		return false
	}
	return b > a
}

// Priority is the handling priority derived from the raiser's trust tier.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityForRisk maps an entity risk tier onto a dispute priority: the
// less trusted the raiser, the sooner a human should look.
func PriorityForRisk(level trust.RiskLevel) Priority {
	switch level {
	case trust.RiskSafe:
		return PriorityLow
	case trust.RiskLow:
		return PriorityNormal
	case trust.RiskMedium:
		return PriorityHigh
	default:
		return PriorityUrgent
	}
}

// Verdict outcomes.
const (
	VerdictBuyer  = "buyer"
	VerdictSeller = "seller"
	VerdictSplit  = "split"
)

// Verdict is an arbiter's conclusion.
type Verdict struct {
	Outcome    string  `json:"outcome"` // buyer | seller | split
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Arbiter reviews a dispute's evidence and renders a verdict.
type Arbiter interface {
	Review(ctx context.Context, d *Dispute) (*Verdict, error)
}

// Evidence is one party's submission.
type Evidence struct {
	PartyID     string    `json:"partyId"`
	Description string    `json:"description"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Dispute is one contested transaction.
type Dispute struct {
	ID              string `json:"id"`
	TransactionID   string `json:"transactionId"`
	EscrowAccountID string `json:"escrowAccountId,omitempty"`
	RaisedBy        string `json:"raisedBy"`
	RespondentID    string `json:"respondentId"`
	BuyerID         string `json:"buyerId"`
	Reason          string `json:"reason"`

	Status       Status   `json:"status"`
	Stage        Stage    `json:"workflowStage"`
	Priority     Priority `json:"priorityLevel"`
	EscrowFrozen bool     `json:"escrowFrozen"`

	Evidence []Evidence `json:"evidence"`

	EvidenceDeadline time.Time `json:"evidenceDeadline"`
	SLADeadline      time.Time `json:"slaDeadline"`

	Verdict        *Verdict `json:"verdict,omitempty"`
	ManualReview   bool     `json:"manualReview"`
	ResolutionNote string   `json:"resolutionNote,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// BothPartiesSubmitted reports whether raiser and respondent each have at
// least one evidence entry. Allows entering analysis before the window
// closes.
func (d *Dispute) BothPartiesSubmitted() bool {
	var raiser, respondent bool
	for _, e := range d.Evidence {
		switch e.PartyID {
		case d.RaisedBy:
			raiser = true
		case d.RespondentID:
			respondent = true
		}
	}
	return raiser && respondent
}

// EvidenceFrom counts the entries submitted by one party.
func (d *Dispute) EvidenceFrom(partyID string) int {
	n := 0
	for _, e := range d.Evidence {
		if e.PartyID == partyID {
			n++
		}
	}
	return n
}

// ValidationError reports malformed dispute input rejected before any
// state mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Store persists disputes. UpdateIf writes only when the stored
// status/stage pair still matches, otherwise it returns ErrStateChanged.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetActiveByTransaction(ctx context.Context, transactionID string) (*Dispute, error)
	UpdateIf(ctx context.Context, d *Dispute, expectStatus Status, expectStage Stage) error
	ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error)
	// Sweep queries: active disputes whose evidence window or SLA deadline
	// has passed.
	ListEvidenceExpired(ctx context.Context, now time.Time, limit int) ([]*Dispute, error)
	ListSLAExpired(ctx context.Context, now time.Time, limit int) ([]*Dispute, error)
}
