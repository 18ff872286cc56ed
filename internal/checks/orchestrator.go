package checks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ITDevS919/trustverify/internal/idgen"
	"github.com/ITDevS919/trustverify/internal/logging"
	"github.com/ITDevS919/trustverify/internal/metrics"
	"github.com/ITDevS919/trustverify/internal/retry"
	"github.com/ITDevS919/trustverify/internal/traces"
)

// DefaultCheckTimeout bounds a single provider call.
const DefaultCheckTimeout = 10 * time.Second

const (
	// providerAttempts is the number of tries per provider call. One retry
	// absorbs transient provider flakiness; persistent errors fail closed.
	providerAttempts   = 2
	providerRetryDelay = 200 * time.Millisecond
)

// Orchestrator fans out an application's checks to their providers and
// collects the results. Checks are independent: one provider's latency or
// failure never blocks or aborts the others.
type Orchestrator struct {
	registry    *Registry
	store       Store
	timeout     time.Duration
	maxInFlight int
}

// NewOrchestrator creates a check orchestrator.
func NewOrchestrator(registry *Registry, store Store) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		store:       store,
		timeout:     DefaultCheckTimeout,
		maxInFlight: 8,
	}
}

// WithTimeout overrides the per-check provider timeout.
func (o *Orchestrator) WithTimeout(d time.Duration) *Orchestrator {
	if d > 0 {
		o.timeout = d
	}
	return o
}

// WithMaxInFlight bounds the number of concurrent provider calls.
func (o *Orchestrator) WithMaxInFlight(n int) *Orchestrator {
	if n > 0 {
		o.maxInFlight = n
	}
	return o
}

// NewChecksFor builds the pending check records for an application. The
// caller persists them atomically with the application so a crash before
// dispatch still leaves an auditable pending record per check.
func NewChecksFor(applicationID, customerType string) ([]*Check, error) {
	types, err := RequiredChecks(customerType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result := make([]*Check, 0, len(types))
	for _, t := range types {
		result = append(result, &Check{
			ID:            idgen.WithPrefix("chk_"),
			ApplicationID: applicationID,
			Type:          t,
			Status:        StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return result, nil
}

// Run executes every check concurrently and returns when all of them have
// reached a terminal state (fan-in; no partial aggregation). The returned
// slice preserves the input order.
//
// The ctx passed here covers the whole orchestration; each provider call
// additionally gets its own per-check timeout.
func (o *Orchestrator) Run(ctx context.Context, snap Snapshot, checks []*Check) []*Check {
	ctx, span := traces.StartSpan(ctx, "checks.Run",
		attribute.String("application_id", snap.ApplicationID),
		attribute.Int("check_count", len(checks)),
	)
	defer span.End()

	sem := make(chan struct{}, o.maxInFlight)
	var wg sync.WaitGroup

	for _, check := range checks {
		if check.Terminal() {
			continue
		}
		wg.Add(1)
		go func(c *Check) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.execute(ctx, snap, c)
		}(check)
	}

	wg.Wait()
	return checks
}

// execute runs a single check against its provider and records the outcome.
// Provider errors are absorbed here: the check fails closed and the error
// never propagates past the orchestrator.
func (o *Orchestrator) execute(ctx context.Context, snap Snapshot, check *Check) {
	logger := logging.L(ctx)

	check.Status = StatusProcessing
	check.UpdatedAt = time.Now()
	if err := o.store.Update(ctx, check); err != nil {
		logger.Warn("failed to mark check processing", "check", check.ID, "error", err)
	}

	provider, err := o.registry.Provider(check.Type)
	if err != nil {
		o.fail(ctx, check, "no provider available: "+err.Error(), 0)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var result *Result
	started := time.Now()
	err = retry.Do(callCtx, providerAttempts, providerRetryDelay, func() error {
		r, perr := provider.Execute(callCtx, snap)
		if perr != nil {
			return perr
		}
		result = r
		return nil
	})
	elapsed := time.Since(started)

	if err != nil {
		reason := "provider error: " + err.Error()
		if callCtx.Err() == context.DeadlineExceeded {
			reason = "provider timed out after " + o.timeout.String()
		}
		o.fail(ctx, check, reason, elapsed.Milliseconds())
		return
	}

	now := time.Now()
	score := result.Score
	check.Status = StatusCompleted
	check.Score = &score
	check.RiskLevel = result.RiskLevel
	check.Signals = result.Signals
	check.RawResponse = result.Raw
	check.ProcessingTimeMs = elapsed.Milliseconds()
	check.CompletedAt = &now
	check.UpdatedAt = now

	if err := o.store.Update(ctx, check); err != nil {
		logger.Warn("failed to persist completed check", "check", check.ID, "error", err)
	}

	metrics.ChecksTotal.WithLabelValues(string(check.Type), string(StatusCompleted)).Inc()
	metrics.CheckDuration.WithLabelValues(string(check.Type)).Observe(elapsed.Seconds())
}

// fail records a check as failed with high risk and a zero score.
func (o *Orchestrator) fail(ctx context.Context, check *Check, reason string, elapsedMs int64) {
	now := time.Now()
	zero := 0.0
	check.Status = StatusFailed
	check.Score = &zero
	check.RiskLevel = RiskHigh
	check.Signals = append(check.Signals, reason)
	check.RawResponse, _ = json.Marshal(map[string]string{"error": reason})
	check.ProcessingTimeMs = elapsedMs
	check.CompletedAt = &now
	check.UpdatedAt = now

	if err := o.store.Update(ctx, check); err != nil {
		logging.L(ctx).Warn("failed to persist failed check", "check", check.ID, "error", err)
	}

	metrics.ChecksTotal.WithLabelValues(string(check.Type), string(StatusFailed)).Inc()
	logging.L(ctx).Info("check failed closed",
		"check", check.ID, "type", check.Type, "reason", reason)
}
