package onboarding

import (
	"context"
	"fmt"
	"time"

	"github.com/ITDevS919/trustverify/internal/checks"
	"github.com/ITDevS919/trustverify/internal/decision"
	"github.com/ITDevS919/trustverify/internal/idgen"
	"github.com/ITDevS919/trustverify/internal/logging"
	"github.com/ITDevS919/trustverify/internal/metrics"
	"github.com/ITDevS919/trustverify/internal/syncutil"
	"github.com/ITDevS919/trustverify/internal/trust"
)

// DecisionNotifier receives the engine's outbound decision events.
// Delivery retry/backoff is entirely the notifier's concern.
type DecisionNotifier interface {
	EmitDecisionCompleted(applicationID, entityID string, dec string, overallScore float64, riskLevel string)
}

// SubmitRequest contains the parameters for creating an application.
type SubmitRequest struct {
	EntityID     string `json:"entityId" binding:"required"`
	CustomerType string `json:"customerType" binding:"required"`

	FullName    string `json:"fullName"`
	DateOfBirth string `json:"dateOfBirth"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	DocumentRef string `json:"documentRef"`

	BusinessName       string   `json:"businessName"`
	RegistrationNumber string   `json:"registrationNumber"`
	BeneficialOwners   []string `json:"beneficialOwners"`
	Directors          []string `json:"directors"`

	IPAddress string `json:"ipAddress"`
	DeviceID  string `json:"deviceId"`
}

// Service implements the application lifecycle.
type Service struct {
	apps       Store
	checkStore checks.Store
	orch       *checks.Orchestrator
	entities   trust.Store
	trustSvc   *trust.Service
	notifier   DecisionNotifier
	locks      syncutil.ShardedMutex
}

// NewService creates an onboarding service.
func NewService(apps Store, checkStore checks.Store, orch *checks.Orchestrator, entities trust.Store) *Service {
	return &Service{
		apps:       apps,
		checkStore: checkStore,
		orch:       orch,
		entities:   entities,
	}
}

// WithTrustService adds post-decision entity rescoring.
func (s *Service) WithTrustService(t *trust.Service) *Service {
	s.trustSvc = t
	return s
}

// WithNotifier adds outbound decision events.
func (s *Service) WithNotifier(n DecisionNotifier) *Service {
	s.notifier = n
	return s
}

// Submit creates a new application together with its pending checks.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Application, error) {
	if _, err := s.entities.Get(ctx, req.EntityID); err != nil {
		return nil, err
	}

	now := time.Now()
	app := &Application{
		ID:                 idgen.WithPrefix("app_"),
		EntityID:           req.EntityID,
		CustomerType:       req.CustomerType,
		FullName:           req.FullName,
		DateOfBirth:        req.DateOfBirth,
		Email:              req.Email,
		Country:            req.Country,
		DocumentRef:        req.DocumentRef,
		BusinessName:       req.BusinessName,
		RegistrationNumber: req.RegistrationNumber,
		BeneficialOwners:   req.BeneficialOwners,
		Directors:          req.Directors,
		IPAddress:          req.IPAddress,
		DeviceID:           req.DeviceID,
		Status:             StatusPending,
		CurrentStep:        "submitted",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if app.DocumentRef != "" {
		app.Status = StatusDocumentsUploaded
		app.CurrentStep = "documents"
	}

	pending, err := checks.NewChecksFor(app.ID, app.CustomerType)
	if err != nil {
		return nil, err
	}

	if err := s.apps.Create(ctx, app, pending); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return app, nil
}

// AttachDocument records an uploaded identity document reference.
func (s *Service) AttachDocument(ctx context.Context, id, documentRef string) (*Application, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Terminal() {
		return nil, ErrApplicationTerminal
	}
	if app.Status == StatusVerificationInProgress {
		return nil, ErrVerificationRunning
	}

	app.DocumentRef = documentRef
	app.Status = StatusDocumentsUploaded
	app.CurrentStep = "documents"
	app.UpdatedAt = time.Now()

	if err := s.apps.Update(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// RunVerification executes the application's checks and applies the decision
// policy. Blocking: returns when every check is terminal and the decision
// (if any) has been applied. If the application is cancelled while checks
// are in flight, the results are still recorded for audit but no decision
// is made.
func (s *Service) RunVerification(ctx context.Context, id string) (*Application, error) {
	unlock := s.locks.Lock(id)

	app, err := s.apps.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if app.Status == StatusCancelled {
		unlock()
		return nil, ErrApplicationCancelled
	}
	if app.Terminal() {
		unlock()
		return nil, ErrApplicationTerminal
	}
	if app.Status == StatusVerificationInProgress {
		unlock()
		return nil, ErrVerificationRunning
	}

	entity, err := s.entities.Get(ctx, app.EntityID)
	if err != nil {
		unlock()
		return nil, err
	}

	app.Status = StatusVerificationInProgress
	app.CurrentStep = "checks"
	app.UpdatedAt = time.Now()
	if err := s.apps.Update(ctx, app); err != nil {
		unlock()
		return nil, err
	}

	pending, err := s.checkStore.ListByApplication(ctx, app.ID)
	if err != nil {
		unlock()
		return nil, err
	}

	// Release the lock for the slow fan-out phase so Cancel stays
	// responsive; the decision phase re-acquires it.
	unlock()

	results := s.orch.Run(ctx, app.Snapshot(entity.SanctionLevel), pending)

	unlock = s.locks.Lock(id)
	defer unlock()

	// Re-read: the application may have been cancelled mid-flight. The
	// check results above are already persisted for audit either way.
	app, err = s.apps.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status == StatusCancelled {
		logging.L(ctx).Info("skipping decision for cancelled application", "application", app.ID)
		return app, nil
	}

	outcome := decision.Decide(results)

	now := time.Now()
	score := outcome.OverallScore
	app.OverallTrustScore = &score
	app.RiskLevel = outcome.RiskLevel
	app.Decision = outcome.Decision
	app.CurrentStep = "decision"
	app.UpdatedAt = now

	switch outcome.Decision {
	case decision.Approved:
		app.Status = StatusApproved
		app.CompletedAt = &now
	default:
		app.Status = StatusRequiresReview
	}

	if err := s.apps.Update(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to persist decision: %w", err)
	}

	s.applySignalMarks(ctx, app.EntityID, results)

	if s.trustSvc != nil {
		if _, err := s.trustSvc.ScoreEntity(ctx, app.EntityID, trust.FactorContext{}); err != nil {
			logging.L(ctx).Warn("post-decision entity rescore failed",
				"entity", app.EntityID, "error", err)
		}
	}

	metrics.DecisionsTotal.WithLabelValues(string(outcome.Decision)).Inc()
	if s.notifier != nil {
		s.notifier.EmitDecisionCompleted(app.ID, app.EntityID,
			string(outcome.Decision), outcome.OverallScore, string(outcome.RiskLevel))
	}

	return app, nil
}

// applySignalMarks persists the per-signal booleans onto the entity.
func (s *Service) applySignalMarks(ctx context.Context, entityID string, results []*checks.Check) {
	entity, err := s.entities.Get(ctx, entityID)
	if err != nil {
		logging.L(ctx).Warn("failed to load entity for signal marks", "entity", entityID, "error", err)
		return
	}

	m := decision.Marks(results)
	entity.KYCVerified = m.KYCVerified
	entity.AMLCleared = m.AMLCleared
	entity.DeviceVerified = m.DeviceVerified
	entity.IPVerified = m.IPVerified
	entity.UpdatedAt = time.Now()

	if err := s.entities.Update(ctx, entity); err != nil {
		logging.L(ctx).Warn("failed to persist signal marks", "entity", entityID, "error", err)
	}
}

// Cancel moves an application to the terminal cancelled state. In-flight
// provider calls are allowed to finish; the decision policy observes the
// cancellation and does not run.
func (s *Service) Cancel(ctx context.Context, id string) (*Application, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Terminal() {
		return nil, ErrApplicationTerminal
	}

	app.Status = StatusCancelled
	app.CurrentStep = "cancelled"
	app.UpdatedAt = time.Now()

	if err := s.apps.Update(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// Get returns an application by ID.
func (s *Service) Get(ctx context.Context, id string) (*Application, error) {
	return s.apps.Get(ctx, id)
}

// Checks returns the application's checks.
func (s *Service) Checks(ctx context.Context, id string) ([]*checks.Check, error) {
	if _, err := s.apps.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.checkStore.ListByApplication(ctx, id)
}

// ListByEntity returns an entity's applications.
func (s *Service) ListByEntity(ctx context.Context, entityID string, limit int) ([]*Application, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.apps.ListByEntity(ctx, entityID, limit)
}
