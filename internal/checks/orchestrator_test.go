package checks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// stubProvider returns a fixed result or error for a check type.
type stubProvider struct {
	checkType CheckType
	score     float64
	signals   []string
	err       error
	delay     time.Duration

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Type() CheckType { return s.checkType }

func (s *stubProvider) Execute(ctx context.Context, snap Snapshot) (*Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return newResult(s.score, s.signals, nil), nil
}

func newTestRegistry(providers ...Provider) *Registry {
	r := NewRegistry()
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func pendingChecks(t *testing.T, appID, customerType string, store Store) []*Check {
	t.Helper()
	checks, err := NewChecksFor(appID, customerType)
	if err != nil {
		t.Fatalf("NewChecksFor: %v", err)
	}
	if err := store.CreateBatch(context.Background(), checks); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return checks
}

func TestRequiredChecks(t *testing.T) {
	individual, err := RequiredChecks("individual")
	if err != nil {
		t.Fatalf("individual: %v", err)
	}
	if len(individual) != 4 {
		t.Errorf("individual check count = %d, want 4", len(individual))
	}

	business, err := RequiredChecks("business")
	if err != nil {
		t.Fatalf("business: %v", err)
	}
	if len(business) != 6 {
		t.Errorf("business check count = %d, want 6", len(business))
	}

	if _, err := RequiredChecks("martian"); !errors.Is(err, ErrUnknownCheckType) {
		t.Errorf("unknown customer type err = %v, want ErrUnknownCheckType", err)
	}
}

func TestRunCompletesAllChecks(t *testing.T) {
	store := NewMemoryStore()
	registry := newTestRegistry(
		&stubProvider{checkType: TypeKYC, score: 90},
		&stubProvider{checkType: TypeAML, score: 95},
		&stubProvider{checkType: TypeDevice, score: 92},
		&stubProvider{checkType: TypeIPRisk, score: 91},
	)
	orch := NewOrchestrator(registry, store)

	checks := pendingChecks(t, "app_1", "individual", store)
	results := orch.Run(context.Background(), Snapshot{ApplicationID: "app_1"}, checks)

	for _, c := range results {
		if !c.Terminal() {
			t.Errorf("check %s not terminal: %s", c.Type, c.Status)
		}
		if c.Status != StatusCompleted {
			t.Errorf("check %s status = %s, want completed", c.Type, c.Status)
		}
		if c.Score == nil {
			t.Errorf("check %s has no score", c.Type)
		}
	}

	// Results must be persisted, not just returned.
	stored, err := store.ListByApplication(context.Background(), "app_1")
	if err != nil {
		t.Fatalf("ListByApplication: %v", err)
	}
	for _, c := range stored {
		if c.Status != StatusCompleted {
			t.Errorf("stored check %s status = %s, want completed", c.Type, c.Status)
		}
	}
}

func TestRunFailureIsolation(t *testing.T) {
	store := NewMemoryStore()
	registry := newTestRegistry(
		&stubProvider{checkType: TypeKYC, score: 90},
		&stubProvider{checkType: TypeAML, err: errors.New("sanctions service unavailable")},
		&stubProvider{checkType: TypeDevice, score: 85},
		&stubProvider{checkType: TypeIPRisk, score: 88},
	)
	orch := NewOrchestrator(registry, store)

	checks := pendingChecks(t, "app_1", "individual", store)
	results := orch.Run(context.Background(), Snapshot{ApplicationID: "app_1"}, checks)

	var failed, completed int
	for _, c := range results {
		switch c.Status {
		case StatusFailed:
			failed++
			if c.EffectiveScore() != 0 {
				t.Errorf("failed check score = %v, want 0", c.EffectiveScore())
			}
			if c.EffectiveRisk() != RiskHigh {
				t.Errorf("failed check risk = %v, want high", c.EffectiveRisk())
			}
			if len(c.Signals) == 0 {
				t.Error("failed check has no explanatory signal")
			}
		case StatusCompleted:
			completed++
		default:
			t.Errorf("check %s left non-terminal: %s", c.Type, c.Status)
		}
	}

	if failed != 1 || completed != 3 {
		t.Errorf("failed/completed = %d/%d, want 1/3", failed, completed)
	}
}

func TestRunTimeoutFailsClosed(t *testing.T) {
	store := NewMemoryStore()
	registry := newTestRegistry(
		&stubProvider{checkType: TypeKYC, score: 90},
		&stubProvider{checkType: TypeAML, score: 95, delay: time.Second},
		&stubProvider{checkType: TypeDevice, score: 85},
		&stubProvider{checkType: TypeIPRisk, score: 88},
	)
	orch := NewOrchestrator(registry, store).WithTimeout(20 * time.Millisecond)

	checks := pendingChecks(t, "app_1", "individual", store)
	started := time.Now()
	results := orch.Run(context.Background(), Snapshot{ApplicationID: "app_1"}, checks)

	// The slow check must not stall fan-in past its own timeout.
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Errorf("orchestration took %v, timeout not enforced", elapsed)
	}

	for _, c := range results {
		if c.Type == TypeAML {
			if c.Status != StatusFailed {
				t.Errorf("timed-out check status = %s, want failed", c.Status)
			}
			if c.EffectiveRisk() != RiskHigh {
				t.Errorf("timed-out check risk = %v, want high", c.EffectiveRisk())
			}
		} else if c.Status != StatusCompleted {
			t.Errorf("check %s status = %s, want completed", c.Type, c.Status)
		}
	}
}

func TestRunConcurrentDispatch(t *testing.T) {
	// With 4 checks each taking ~50ms, sequential execution would take
	// ~200ms. Concurrent fan-out should finish in roughly one provider's
	// latency.
	store := NewMemoryStore()
	registry := newTestRegistry(
		&stubProvider{checkType: TypeKYC, score: 90, delay: 50 * time.Millisecond},
		&stubProvider{checkType: TypeAML, score: 95, delay: 50 * time.Millisecond},
		&stubProvider{checkType: TypeDevice, score: 85, delay: 50 * time.Millisecond},
		&stubProvider{checkType: TypeIPRisk, score: 88, delay: 50 * time.Millisecond},
	)
	orch := NewOrchestrator(registry, store)

	checks := pendingChecks(t, "app_1", "individual", store)
	started := time.Now()
	orch.Run(context.Background(), Snapshot{ApplicationID: "app_1"}, checks)

	if elapsed := time.Since(started); elapsed > 150*time.Millisecond {
		t.Errorf("orchestration took %v, checks were not dispatched concurrently", elapsed)
	}
}

func TestRunMissingProviderFailsClosed(t *testing.T) {
	store := NewMemoryStore()
	registry := newTestRegistry(
		&stubProvider{checkType: TypeKYC, score: 90},
		// No AML, device, or IP providers registered.
	)
	orch := NewOrchestrator(registry, store)

	checks := pendingChecks(t, "app_1", "individual", store)
	results := orch.Run(context.Background(), Snapshot{ApplicationID: "app_1"}, checks)

	for _, c := range results {
		if c.Type == TypeKYC {
			continue
		}
		if c.Status != StatusFailed {
			t.Errorf("check %s without provider: status = %s, want failed", c.Type, c.Status)
		}
	}
}

func TestRunSkipsTerminalChecks(t *testing.T) {
	store := NewMemoryStore()
	kyc := &stubProvider{checkType: TypeKYC, score: 90}
	registry := newTestRegistry(kyc,
		&stubProvider{checkType: TypeAML, score: 95},
		&stubProvider{checkType: TypeDevice, score: 85},
		&stubProvider{checkType: TypeIPRisk, score: 88},
	)
	orch := NewOrchestrator(registry, store)

	checks := pendingChecks(t, "app_1", "individual", store)
	orch.Run(context.Background(), Snapshot{ApplicationID: "app_1"}, checks)
	orch.Run(context.Background(), Snapshot{ApplicationID: "app_1"}, checks)

	kyc.mu.Lock()
	defer kyc.mu.Unlock()
	if kyc.calls != 1 {
		t.Errorf("terminal check re-dispatched: %d provider calls, want 1", kyc.calls)
	}
}
