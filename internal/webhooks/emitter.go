package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ITDevS919/trustverify/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustverify",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustverify",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned.
// It satisfies the onboarding and dispute notifier interfaces.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(entityID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.DispatchToEntity(ctx, entityID, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "entity", entityID, "error", err)
	}
}

// EmitDecisionCompleted emits a decision.completed event when a verification
// run produces a decision.
func (e *Emitter) EmitDecisionCompleted(applicationID, entityID string, dec string, overallScore float64, riskLevel string) {
	e.emit(entityID, EventDecisionCompleted, map[string]interface{}{
		"applicationId": applicationID,
		"entityId":      entityID,
		"decision":      dec,
		"overallScore":  overallScore,
		"riskLevel":     riskLevel,
	})
}

// --- Escrow events ---

// EmitEscrowFunded emits an escrow.funded event.
func (e *Emitter) EmitEscrowFunded(payerID, accountID, transactionID string, amount float64) {
	e.emit(payerID, EventEscrowFunded, map[string]interface{}{
		"accountId":     accountID,
		"transactionId": transactionID,
		"amount":        amount,
	})
}

// EmitEscrowHeld emits an escrow.held event.
func (e *Emitter) EmitEscrowHeld(payeeID, accountID, transactionID string, amount float64) {
	e.emit(payeeID, EventEscrowHeld, map[string]interface{}{
		"accountId":     accountID,
		"transactionId": transactionID,
		"amount":        amount,
	})
}

// EmitEscrowReleased emits an escrow.released event.
func (e *Emitter) EmitEscrowReleased(payeeID, accountID, transactionID string, amount float64) {
	e.emit(payeeID, EventEscrowReleased, map[string]interface{}{
		"accountId":     accountID,
		"transactionId": transactionID,
		"amount":        amount,
	})
}

// EmitEscrowRefunded emits an escrow.refunded event.
func (e *Emitter) EmitEscrowRefunded(payerID, accountID, transactionID, reason string) {
	e.emit(payerID, EventEscrowRefunded, map[string]interface{}{
		"accountId":     accountID,
		"transactionId": transactionID,
		"reason":        reason,
	})
}

// --- Dispute events ---

// EmitDisputeOpened emits a dispute.opened event to the respondent.
func (e *Emitter) EmitDisputeOpened(respondentID, disputeID, transactionID, reason string) {
	e.emit(respondentID, EventDisputeOpened, map[string]interface{}{
		"disputeId":     disputeID,
		"transactionId": transactionID,
		"reason":        reason,
	})
}

// EmitDisputeResolved emits a dispute.resolved event to all subscribers of
// the event type. Resolution concerns both parties, so it fans out by event
// rather than by entity.
func (e *Emitter) EmitDisputeResolved(disputeID, transactionID, outcome string, manual bool) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(EventDisputeResolved)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      EventDisputeResolved,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"disputeId":     disputeID,
			"transactionId": transactionID,
			"outcome":       outcome,
			"manualReview":  manual,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(EventDisputeResolved)).Inc()
		e.logger.Warn("webhook emit failed", "event", EventDisputeResolved, "dispute", disputeID, "error", err)
	}
}
