package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ITDevS919/trustverify/internal/escrow"
	"github.com/ITDevS919/trustverify/internal/idgen"
	"github.com/ITDevS919/trustverify/internal/logging"
	"github.com/ITDevS919/trustverify/internal/metrics"
	"github.com/ITDevS919/trustverify/internal/syncutil"
	"github.com/ITDevS919/trustverify/internal/transactions"
	"github.com/ITDevS919/trustverify/internal/trust"
)

const (
	// DefaultEvidenceWindow is how long parties have to submit evidence.
	DefaultEvidenceWindow = 24 * time.Hour
	// DefaultArbitrationWindow is how long arbitration may take after the
	// evidence window; the dispute's SLA deadline is the sum of the two.
	DefaultArbitrationWindow = 48 * time.Hour
	// DefaultMinConfidence is the verdict confidence below which a dispute
	// escalates to manual review instead of auto-resolving.
	DefaultMinConfidence = 0.75
)

// ResolutionNotifier receives dispute workflow events.
type ResolutionNotifier interface {
	EmitDisputeOpened(respondentID, disputeID, transactionID, reason string)
	EmitDisputeResolved(disputeID, transactionID, outcome string, manual bool)
}

// CreateRequest contains the parameters for opening a dispute.
type CreateRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	RaisedBy      string `json:"raisedBy" binding:"required"`
	Reason        string `json:"reason" binding:"required"`
}

// Service implements the dispute workflow.
type Service struct {
	store    Store
	txSvc    *transactions.Service
	escrow   *escrow.Service
	trustSvc *trust.Service
	arbiter  Arbiter
	notifier ResolutionNotifier

	evidenceWindow    time.Duration
	arbitrationWindow time.Duration
	minConfidence     float64

	locks syncutil.ShardedMutex
}

// NewService creates a dispute service with the default windows.
func NewService(store Store, txSvc *transactions.Service, escrowSvc *escrow.Service, trustSvc *trust.Service, arbiter Arbiter) *Service {
	return &Service{
		store:             store,
		txSvc:             txSvc,
		escrow:            escrowSvc,
		trustSvc:          trustSvc,
		arbiter:           arbiter,
		evidenceWindow:    DefaultEvidenceWindow,
		arbitrationWindow: DefaultArbitrationWindow,
		minConfidence:     DefaultMinConfidence,
	}
}

// WithWindows overrides the evidence and arbitration windows.
func (s *Service) WithWindows(evidence, arbitration time.Duration) *Service {
	if evidence > 0 {
		s.evidenceWindow = evidence
	}
	if arbitration > 0 {
		s.arbitrationWindow = arbitration
	}
	return s
}

// WithMinConfidence overrides the auto-resolution confidence floor.
func (s *Service) WithMinConfidence(c float64) *Service {
	if c > 0 && c <= 1 {
		s.minConfidence = c
	}
	return s
}

// WithNotifier adds outbound resolution events.
func (s *Service) WithNotifier(n ResolutionNotifier) *Service {
	s.notifier = n
	return s
}

func conflict(id string, current, attempted string) error {
	return &transactions.StateConflictError{
		Resource:  "dispute",
		ID:        id,
		Current:   current,
		Attempted: attempted,
	}
}

// HasActiveDispute implements escrow.DisputeChecker.
func (s *Service) HasActiveDispute(ctx context.Context, transactionID string) (bool, error) {
	_, err := s.store.GetActiveByTransaction(ctx, transactionID)
	if err == ErrDisputeNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create opens a dispute on a transaction, freezing its escrow. A
// transaction can carry at most one active dispute; a second attempt is a
// state conflict.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Dispute, error) {
	tx, err := s.txSvc.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if req.RaisedBy != tx.BuyerID && req.RaisedBy != tx.SellerID {
		return nil, &ValidationError{
			Field:   "raisedBy",
			Message: "must be the transaction's buyer or seller",
		}
	}
	if tx.Status == transactions.StatusCompleted &&
		tx.DisputeDeadline != nil && time.Now().After(*tx.DisputeDeadline) {
		return nil, &ValidationError{
			Field:   "transactionId",
			Message: "dispute window has closed",
		}
	}

	if existing, err := s.store.GetActiveByTransaction(ctx, req.TransactionID); err == nil {
		return nil, conflict(existing.ID, string(existing.Status), "open")
	} else if err != ErrDisputeNotFound {
		return nil, err
	}

	// Moving the transaction to disputed is the race arbiter: a concurrent
	// release and a concurrent second dispute both lose here.
	if _, err := s.txSvc.MarkDisputed(ctx, req.TransactionID); err != nil {
		return nil, err
	}

	respondent := tx.SellerID
	if req.RaisedBy == tx.SellerID {
		respondent = tx.BuyerID
	}

	now := time.Now()
	d := &Dispute{
		ID:               idgen.WithPrefix("dsp_"),
		TransactionID:    tx.ID,
		RaisedBy:         req.RaisedBy,
		RespondentID:     respondent,
		BuyerID:          tx.BuyerID,
		Reason:           req.Reason,
		Status:           StatusOpen,
		Stage:            StageCreated,
		Priority:         s.priorityFor(ctx, req.RaisedBy),
		EscrowFrozen:     true,
		EvidenceDeadline: now.Add(s.evidenceWindow),
		SLADeadline:      now.Add(s.evidenceWindow + s.arbitrationWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if account, err := s.escrow.GetByTransaction(ctx, tx.ID); err == nil {
		d.EscrowAccountID = account.ID
	}

	if err := s.store.Create(ctx, d); err != nil {
		// Undo the disputed mark, the same restore Close performs, so the
		// transaction is not stranded at disputed with no dispute behind
		// it.
		if _, rerr := s.txSvc.ResolveCompleted(ctx, tx.ID); rerr != nil {
			logging.L(ctx).Error("failed to restore transaction after rejected dispute create",
				"transaction", tx.ID, "error", rerr)
		}
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	metrics.DisputesTotal.WithLabelValues(string(StageCreated)).Inc()
	logging.L(ctx).Info("dispute opened",
		"dispute", d.ID,
		"transaction", d.TransactionID,
		"raised_by", d.RaisedBy,
		"priority", d.Priority)

	if s.notifier != nil {
		s.notifier.EmitDisputeOpened(d.RespondentID, d.ID, d.TransactionID, d.Reason)
	}

	return d, nil
}

// priorityFor derives the dispute priority from the raiser's current trust
// tier.
func (s *Service) priorityFor(ctx context.Context, entityID string) Priority {
	entity, err := s.trustSvc.GetEntity(ctx, entityID)
	if err != nil {
		return PriorityNormal
	}
	return PriorityForRisk(trust.Classify(entity.TrustScore))
}

// SubmitEvidence records one party's evidence. Allowed while the evidence
// window is open; the first submission advances the workflow stage.
func (s *Service) SubmitEvidence(ctx context.Context, id, partyID, description string) (*Dispute, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.Active() {
		return nil, conflict(d.ID, string(d.Status), "evidence_collection")
	}
	if d.Stage != StageCreated && d.Stage != StageEvidenceCollection {
		return nil, conflict(d.ID, string(d.Stage), string(StageEvidenceCollection))
	}
	if partyID != d.RaisedBy && partyID != d.RespondentID {
		return nil, &ValidationError{
			Field:   "partyId",
			Message: "must be a party to the dispute",
		}
	}
	if time.Now().After(d.EvidenceDeadline) {
		return nil, &ValidationError{
			Field:   "evidence",
			Message: "evidence window has closed",
		}
	}

	expectStatus, expectStage := d.Status, d.Stage
	d.Evidence = append(d.Evidence, Evidence{
		PartyID:     partyID,
		Description: description,
		SubmittedAt: time.Now(),
	})
	if d.Stage == StageCreated {
		d.Stage = StageEvidenceCollection
		metrics.DisputesTotal.WithLabelValues(string(StageEvidenceCollection)).Inc()
	}
	d.UpdatedAt = time.Now()

	if err := s.updateIf(ctx, d, expectStatus, expectStage); err != nil {
		return nil, err
	}
	return d, nil
}

// AdvanceToAnalysis moves an active dispute into arbitration. Requires the
// evidence window to have elapsed, or both parties to have submitted
// early.
func (s *Service) AdvanceToAnalysis(ctx context.Context, id string) (*Dispute, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.advanceToAnalysisLocked(ctx, id)
}

func (s *Service) advanceToAnalysisLocked(ctx context.Context, id string) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.Active() {
		return nil, conflict(d.ID, string(d.Status), string(StageAIAnalysis))
	}
	if !CanAdvance(d.Stage, StageAIAnalysis) {
		return nil, conflict(d.ID, string(d.Stage), string(StageAIAnalysis))
	}
	if time.Now().Before(d.EvidenceDeadline) && !d.BothPartiesSubmitted() {
		return nil, &ValidationError{
			Field:   "workflowStage",
			Message: "evidence window still open and both parties have not submitted",
		}
	}

	expectStatus, expectStage := d.Status, d.Stage
	d.Stage = StageAIAnalysis
	d.Status = StatusInvestigating
	d.UpdatedAt = time.Now()

	if err := s.updateIf(ctx, d, expectStatus, expectStage); err != nil {
		return nil, err
	}
	metrics.DisputesTotal.WithLabelValues(string(StageAIAnalysis)).Inc()
	return d, nil
}

// Resolve runs the arbiter over the dispute. A verdict above the
// confidence floor resolves the dispute and settles its escrow; below the
// floor the dispute escalates to manual review and stays investigating.
func (s *Service) Resolve(ctx context.Context, id string) (*Dispute, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.resolveLocked(ctx, id)
}

func (s *Service) resolveLocked(ctx context.Context, id string) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Stage != StageAIAnalysis || !d.Status.Active() {
		return nil, conflict(d.ID, string(d.Stage), string(StageResolution))
	}

	verdict, err := s.arbiter.Review(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("arbiter review failed: %w", err)
	}

	if verdict.Confidence < s.minConfidence {
		return s.escalateLocked(ctx, d, verdict)
	}
	return s.applyVerdict(ctx, d, verdict, false, "")
}

// escalateLocked flags a dispute for manual review.
func (s *Service) escalateLocked(ctx context.Context, d *Dispute, verdict *Verdict) (*Dispute, error) {
	expectStatus, expectStage := d.Status, d.Stage
	d.ManualReview = true
	d.Priority = PriorityUrgent
	d.Verdict = verdict
	d.UpdatedAt = time.Now()

	if err := s.updateIf(ctx, d, expectStatus, expectStage); err != nil {
		return nil, err
	}

	metrics.DisputeEscalationsTotal.Inc()
	logging.L(ctx).Info("dispute escalated to manual review",
		"dispute", d.ID,
		"confidence", verdict.Confidence,
		"floor", s.minConfidence)
	return d, nil
}

// ResolveManually applies a human reviewer's verdict to an escalated
// dispute.
func (s *Service) ResolveManually(ctx context.Context, id, outcome, note string) (*Dispute, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if outcome != VerdictBuyer && outcome != VerdictSeller && outcome != VerdictSplit {
		return nil, &ValidationError{
			Field:   "outcome",
			Message: "must be buyer, seller, or split",
		}
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Stage != StageAIAnalysis || !d.Status.Active() {
		return nil, conflict(d.ID, string(d.Stage), string(StageResolution))
	}

	verdict := &Verdict{Outcome: outcome, Confidence: 1, Reasoning: note}
	return s.applyVerdict(ctx, d, verdict, true, note)
}

// applyVerdict settles the dispute and its escrow. Resolution is the only
// path that unfreezes a disputed transaction's escrow.
func (s *Service) applyVerdict(ctx context.Context, d *Dispute, verdict *Verdict, manual bool, note string) (*Dispute, error) {
	expectStatus, expectStage := d.Status, d.Stage

	// Money moves before the dispute goes terminal. A provider failure
	// here leaves the dispute active in ai_analysis, so Resolve or
	// ResolveManually can retry the settlement.
	if err := s.settleEscrow(ctx, d, verdict); err != nil {
		return nil, fmt.Errorf("escrow settlement failed: %w", err)
	}

	now := time.Now()
	d.Status = StatusResolved
	d.Stage = StageResolution
	d.Verdict = verdict
	d.ManualReview = manual
	d.EscrowFrozen = false
	d.ResolutionNote = note
	d.ResolvedAt = &now
	d.UpdatedAt = now

	if err := s.updateIf(ctx, d, expectStatus, expectStage); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues(string(StageResolution)).Inc()
	logging.L(ctx).Info("dispute resolved",
		"dispute", d.ID,
		"outcome", verdict.Outcome,
		"confidence", verdict.Confidence,
		"manual", manual)

	if s.notifier != nil {
		s.notifier.EmitDisputeResolved(d.ID, d.TransactionID, verdict.Outcome, manual)
	}
	return d, nil
}

// settleEscrow moves money and the transaction according to the verdict.
// A retry after a partial failure skips the legs that already landed.
func (s *Service) settleEscrow(ctx context.Context, d *Dispute, verdict *Verdict) error {
	switch verdict.Outcome {
	case VerdictBuyer:
		if err := s.settleAccount(ctx, d.EscrowAccountID, escrow.StatusRefunded, nil); err != nil {
			return err
		}
		return s.settleTransaction(ctx, d.TransactionID, transactions.StatusRefunded)
	case VerdictSeller:
		if err := s.settleAccount(ctx, d.EscrowAccountID, escrow.StatusReleased, nil); err != nil {
			return err
		}
		return s.settleTransaction(ctx, d.TransactionID, transactions.StatusCompleted)
	case VerdictSplit:
		if d.EscrowAccountID != "" {
			account, err := s.escrow.Get(ctx, d.EscrowAccountID)
			if err != nil {
				return err
			}
			half := account.Amount / 2
			// Partial capture: the provider returns the remainder to the
			// payer.
			if err := s.settleAccount(ctx, d.EscrowAccountID, escrow.StatusReleased, &half); err != nil {
				return err
			}
		}
		return s.settleTransaction(ctx, d.TransactionID, transactions.StatusCompleted)
	default:
		return fmt.Errorf("unknown verdict outcome %q", verdict.Outcome)
	}
}

// settleAccount moves an escrow account to its verdict outcome. No-op when
// the account is already there, so a resolution retry cannot double
// settle.
func (s *Service) settleAccount(ctx context.Context, accountID string, target escrow.Status, partial *float64) error {
	if accountID == "" {
		return nil
	}
	account, err := s.escrow.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Status == target {
		return nil
	}
	if target == escrow.StatusRefunded {
		_, err = s.escrow.RefundForResolution(ctx, accountID, "dispute resolved for buyer")
	} else {
		_, err = s.escrow.ReleaseForResolution(ctx, accountID, partial)
	}
	return err
}

// settleTransaction is the matching no-op-on-retry transition for the
// disputed transaction.
func (s *Service) settleTransaction(ctx context.Context, transactionID string, target transactions.Status) error {
	tx, err := s.txSvc.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status == target {
		return nil
	}
	if target == transactions.StatusRefunded {
		_, err = s.txSvc.ResolveRefunded(ctx, transactionID)
	} else {
		_, err = s.txSvc.ResolveCompleted(ctx, transactionID)
	}
	return err
}

// Close withdraws an active dispute without a verdict. The escrow
// unfreezes and the normal release rules resume; the transaction returns
// to completed.
func (s *Service) Close(ctx context.Context, id string) (*Dispute, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.Active() {
		return nil, conflict(d.ID, string(d.Status), string(StatusClosed))
	}

	expectStatus, expectStage := d.Status, d.Stage
	d.Status = StatusClosed
	d.EscrowFrozen = false
	d.UpdatedAt = time.Now()

	if err := s.updateIf(ctx, d, expectStatus, expectStage); err != nil {
		return nil, err
	}

	if _, err := s.txSvc.ResolveCompleted(ctx, d.TransactionID); err != nil {
		logging.L(ctx).Warn("failed to restore transaction after dispute close",
			"transaction", d.TransactionID, "error", err)
	}
	return d, nil
}

// EscalatePastSLA flags an unresolved dispute past its SLA deadline for
// manual review. Used by the sweep timer; safe to call repeatedly.
func (s *Service) EscalatePastSLA(ctx context.Context, id string) (*Dispute, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.Active() || d.ManualReview {
		return d, nil
	}
	if time.Now().Before(d.SLADeadline) {
		return d, nil
	}

	expectStatus, expectStage := d.Status, d.Stage
	d.ManualReview = true
	d.Priority = PriorityUrgent
	d.UpdatedAt = time.Now()

	if err := s.updateIf(ctx, d, expectStatus, expectStage); err != nil {
		return nil, err
	}
	metrics.DisputeEscalationsTotal.Inc()
	return d, nil
}

// Get returns a dispute by ID.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// ListByTransaction returns a transaction's disputes, historical included.
func (s *Service) ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error) {
	return s.store.ListByTransaction(ctx, transactionID)
}

func (s *Service) updateIf(ctx context.Context, d *Dispute, expectStatus Status, expectStage Stage) error {
	err := s.store.UpdateIf(ctx, d, expectStatus, expectStage)
	if err == ErrStateChanged {
		current, gerr := s.store.Get(ctx, d.ID)
		currentState := "unknown"
		if gerr == nil {
			currentState = string(current.Status) + "/" + string(current.Stage)
		}
		return conflict(d.ID, currentState, string(d.Status)+"/"+string(d.Stage))
	}
	if err != nil && err != ErrDisputeNotFound {
		return fmt.Errorf("failed to persist dispute: %w", err)
	}
	return err
}

var _ escrow.DisputeChecker = (*Service)(nil)

// Sweep advances overdue disputes: evidence windows that have lapsed move
// to analysis and get an arbiter pass; unresolved disputes past their SLA
// deadline escalate to manual review.
func (s *Service) Sweep(ctx context.Context, now time.Time, limit int) {
	overdue, err := s.store.ListEvidenceExpired(ctx, now, limit)
	if err != nil {
		logging.L(ctx).Warn("failed to list overdue evidence windows", "error", err)
	} else {
		for _, d := range overdue {
			if _, err := s.AdvanceToAnalysis(ctx, d.ID); err != nil {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					logging.L(ctx).Warn("failed to advance dispute", "dispute", d.ID, "error", err)
				}
				continue
			}
			if _, err := s.Resolve(ctx, d.ID); err != nil {
				logging.L(ctx).Warn("auto-resolution failed", "dispute", d.ID, "error", err)
			}
		}
	}

	expired, err := s.store.ListSLAExpired(ctx, now, limit)
	if err != nil {
		logging.L(ctx).Warn("failed to list SLA-expired disputes", "error", err)
		return
	}
	for _, d := range expired {
		if _, err := s.EscalatePastSLA(ctx, d.ID); err != nil {
			logging.L(ctx).Warn("failed to escalate dispute", "dispute", d.ID, "error", err)
		}
	}
}
