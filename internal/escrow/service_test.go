package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ITDevS919/trustverify/internal/transactions"
	"github.com/ITDevS919/trustverify/internal/trust"
)

type stubDisputeChecker struct {
	active bool
}

func (s *stubDisputeChecker) HasActiveDispute(ctx context.Context, transactionID string) (bool, error) {
	return s.active, nil
}

type fixture struct {
	svc      *Service
	txSvc    *transactions.Service
	disputes *stubDisputeChecker
}

func newFixture(t *testing.T, bufferWindow time.Duration) *fixture {
	t.Helper()

	entityStore := trust.NewMemoryStore()
	trustSvc := trust.NewService(entityStore)
	for _, id := range []string{"buyer", "seller"} {
		if err := trustSvc.RegisterEntity(context.Background(), &trust.Entity{
			ID:                    id,
			Kind:                  "individual",
			VerificationLevel:     trust.LevelBasic,
			CompletedTransactions: 10,
		}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	txSvc := transactions.NewService(transactions.NewMemoryStore(), trustSvc, bufferWindow)
	disputes := &stubDisputeChecker{}
	svc := NewService(NewMemoryStore(), txSvc, NewSimulatedProvider()).
		WithDisputeChecker(disputes)

	return &fixture{svc: svc, txSvc: txSvc, disputes: disputes}
}

func (f *fixture) newHeldAccount(t *testing.T) *Account {
	t.Helper()
	tx, err := f.txSvc.Create(context.Background(), transactions.CreateRequest{
		BuyerID: "buyer", SellerID: "seller", Amount: 250,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	account, err := f.svc.Open(context.Background(), tx.ID, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.svc.Fund(context.Background(), account.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}
	account, err = f.svc.Hold(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	return account
}

func TestOpenFundHoldLifecycle(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	account := f.newHeldAccount(t)

	if account.Status != StatusHeld {
		t.Errorf("status = %s, want held", account.Status)
	}
	if account.ProviderName != "simulated" {
		t.Errorf("provider = %s, want simulated", account.ProviderName)
	}
	if account.ProviderRef == "" {
		t.Error("hold should carry a provider reference")
	}
	if account.FundedAt == nil || account.HeldAt == nil {
		t.Error("funded/held timestamps should be stamped")
	}

	tx, _ := f.txSvc.Get(context.Background(), account.TransactionID)
	if tx.Status != transactions.StatusEscrow {
		t.Errorf("transaction status = %s, want escrow", tx.Status)
	}
	if tx.BufferUntil == nil {
		t.Error("escrowed transaction should have a buffer window")
	}
}

func TestOpenRejectsSecondAccount(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	tx, err := f.txSvc.Create(context.Background(), transactions.CreateRequest{
		BuyerID: "buyer", SellerID: "seller", Amount: 250,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Open(context.Background(), tx.ID, ""); err != nil {
		t.Fatalf("first open: %v", err)
	}

	_, err = f.svc.Open(context.Background(), tx.ID, "")
	var conflict *transactions.StateConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("second open err = %v, want StateConflictError", err)
	}
}

func TestReleaseAfterBuffer(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	account := f.newHeldAccount(t)

	time.Sleep(5 * time.Millisecond)

	released, err := f.svc.Release(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != StatusReleased || released.ReleasedAt == nil {
		t.Errorf("released account = %+v", released)
	}
}

func TestReleaseBeforeBufferEnd(t *testing.T) {
	f := newFixture(t, time.Hour)
	account := f.newHeldAccount(t)

	_, err := f.svc.Release(context.Background(), account.ID)
	var eligibility *EligibilityError
	if !errors.As(err, &eligibility) {
		t.Fatalf("err = %v, want EligibilityError", err)
	}
	if eligibility.Clause != ClauseBufferWindow {
		t.Errorf("clause = %s, want %s", eligibility.Clause, ClauseBufferWindow)
	}
}

func TestReleaseBlockedByActiveDispute(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	account := f.newHeldAccount(t)
	time.Sleep(5 * time.Millisecond)

	f.disputes.active = true
	_, err := f.svc.Release(context.Background(), account.ID)
	var eligibility *EligibilityError
	if !errors.As(err, &eligibility) {
		t.Fatalf("err = %v, want EligibilityError", err)
	}
	if eligibility.Clause != ClauseActiveDispute {
		t.Errorf("clause = %s, want %s", eligibility.Clause, ClauseActiveDispute)
	}
}

// Dispute created on a held account: release is rejected, and after buyer-
// favored resolution the refund succeeds exactly once.
func TestDisputedAccountRefundExactlyOnce(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	account := f.newHeldAccount(t)
	time.Sleep(5 * time.Millisecond)

	// Dispute opens: transaction moves to disputed, checker reports active.
	if _, err := f.txSvc.MarkDisputed(context.Background(), account.TransactionID); err != nil {
		t.Fatalf("mark disputed: %v", err)
	}
	f.disputes.active = true

	_, err := f.svc.Release(context.Background(), account.ID)
	var eligibility *EligibilityError
	if !errors.As(err, &eligibility) {
		t.Fatalf("release during dispute err = %v, want EligibilityError", err)
	}

	// Resolution in the buyer's favor refunds once.
	f.disputes.active = false
	refunded, err := f.svc.RefundForResolution(context.Background(), account.ID, "dispute resolved for buyer")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != StatusRefunded || refunded.RefundedAt == nil {
		t.Errorf("refunded account = %+v", refunded)
	}

	// Second refund hits the terminal state.
	_, err = f.svc.RefundForResolution(context.Background(), account.ID, "again")
	var conflict *transactions.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second refund err = %v, want StateConflictError", err)
	}
	if conflict.Current != string(StatusRefunded) {
		t.Errorf("conflict current = %s, want refunded", conflict.Current)
	}
}

func TestTerminalTransitionsRejected(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	account := f.newHeldAccount(t)
	time.Sleep(5 * time.Millisecond)

	if _, err := f.svc.Release(context.Background(), account.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	var conflict *transactions.StateConflictError
	if _, err := f.svc.Fund(context.Background(), account.ID); !errors.As(err, &conflict) {
		t.Errorf("fund after release err = %v, want StateConflictError", err)
	}
	if _, err := f.svc.Hold(context.Background(), account.ID); !errors.As(err, &conflict) {
		t.Errorf("hold after release err = %v, want StateConflictError", err)
	}
	if _, err := f.svc.Release(context.Background(), account.ID); !errors.As(err, &conflict) {
		t.Errorf("double release err = %v, want StateConflictError", err)
	}
	if _, err := f.svc.RefundForResolution(context.Background(), account.ID, "x"); !errors.As(err, &conflict) {
		t.Errorf("refund after release err = %v, want StateConflictError", err)
	}
}

func TestSkippingStatesRejected(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	tx, _ := f.txSvc.Create(context.Background(), transactions.CreateRequest{
		BuyerID: "buyer", SellerID: "seller", Amount: 100,
	})
	account, err := f.svc.Open(context.Background(), tx.ID, "")
	if err != nil {
		t.Fatal(err)
	}

	// created -> held skips funded
	var conflict *transactions.StateConflictError
	if _, err := f.svc.Hold(context.Background(), account.ID); !errors.As(err, &conflict) {
		t.Errorf("hold from created err = %v, want StateConflictError", err)
	}
	// created -> released skips everything
	if _, err := f.svc.ReleaseForResolution(context.Background(), account.ID, nil); !errors.As(err, &conflict) {
		t.Errorf("release from created err = %v, want StateConflictError", err)
	}
}

func TestSelectProvider(t *testing.T) {
	tests := []struct {
		risk       trust.RiskLevel
		preference string
		want       string
	}{
		{trust.RiskSafe, "", "simulated"},
		{trust.RiskLow, "", "simulated"},
		{trust.RiskMedium, "", "simulated"},
		{trust.RiskHigh, "", "stripe"},
		{trust.RiskCritical, "", "stripe"},
		{trust.RiskSafe, "stripe", "stripe"},
		{trust.RiskHigh, "simulated", "simulated"},
	}
	for _, tt := range tests {
		if got := SelectProvider(tt.risk, tt.preference); got != tt.want {
			t.Errorf("SelectProvider(%s, %q) = %s, want %s", tt.risk, tt.preference, got, tt.want)
		}
	}
}

func TestSimulatedProviderSettleOnce(t *testing.T) {
	p := NewSimulatedProvider()
	ref, err := p.CreateHold(context.Background(), 100, "USD", "buyer", "seller")
	if err != nil {
		t.Fatal(err)
	}

	state, _ := p.Status(context.Background(), ref)
	if state != "held" {
		t.Errorf("state = %s, want held", state)
	}

	if err := p.Release(context.Background(), ref, nil); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := p.Refund(context.Background(), ref, "late"); err == nil {
		t.Error("refund after release should fail at the provider")
	}

	if _, err := p.CreateHold(context.Background(), -1, "USD", "a", "b"); err == nil {
		t.Error("non-positive hold should fail")
	}
}

// countingProvider tracks how many holds were created and how many are
// still authorized.
type countingProvider struct {
	mu      sync.Mutex
	created int
	held    map[string]bool
}

func newCountingProvider() *countingProvider {
	return &countingProvider{held: make(map[string]bool)}
}

func (p *countingProvider) Name() string { return DefaultProviderName }

func (p *countingProvider) CreateHold(ctx context.Context, amount float64, currency, payerID, payeeID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	ref := fmt.Sprintf("hold_%d", p.created)
	p.held[ref] = true
	return ref, nil
}

func (p *countingProvider) Release(ctx context.Context, ref string, amount *float64) error {
	return p.settle(ref)
}

func (p *countingProvider) Refund(ctx context.Context, ref, reason string) error {
	return p.settle(ref)
}

func (p *countingProvider) settle(ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.held[ref] {
		return fmt.Errorf("unknown or settled hold %s", ref)
	}
	p.held[ref] = false
	return nil
}

func (p *countingProvider) Status(ctx context.Context, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held[ref] {
		return "held", nil
	}
	return "settled", nil
}

func (p *countingProvider) liveHolds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, live := range p.held {
		if live {
			n++
		}
	}
	return n
}

type failingAccountStore struct {
	Store
	createErr error
}

func (s *failingAccountStore) Create(ctx context.Context, account *Account) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.Create(ctx, account)
}

func TestOpenSecondAccountSkipsProvider(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	provider := newCountingProvider()
	svc := NewService(NewMemoryStore(), f.txSvc, provider)

	tx, err := f.txSvc.Create(context.Background(), transactions.CreateRequest{
		BuyerID: "buyer", SellerID: "seller", Amount: 250,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Open(context.Background(), tx.ID, ""); err != nil {
		t.Fatalf("first open: %v", err)
	}

	_, err = svc.Open(context.Background(), tx.ID, "")
	var conflictErr *transactions.StateConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("second open err = %v, want StateConflictError", err)
	}

	// The duplicate is rejected before any money is touched.
	if provider.created != 1 {
		t.Errorf("provider holds created = %d, want 1", provider.created)
	}
	if got := provider.liveHolds(); got != 1 {
		t.Errorf("live holds = %d, want 1", got)
	}
}

func TestOpenVoidsHoldWhenCreateLosesRace(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	provider := newCountingProvider()
	store := &failingAccountStore{Store: NewMemoryStore(), createErr: ErrAccountExists}
	svc := NewService(store, f.txSvc, provider)

	tx, err := f.txSvc.Create(context.Background(), transactions.CreateRequest{
		BuyerID: "buyer", SellerID: "seller", Amount: 250,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Open(context.Background(), tx.ID, "")
	var conflictErr *transactions.StateConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("open err = %v, want StateConflictError", err)
	}

	// The losing open authorized a hold; it must not stay live.
	if provider.created != 1 {
		t.Errorf("provider holds created = %d, want 1", provider.created)
	}
	if got := provider.liveHolds(); got != 0 {
		t.Errorf("live holds after rejected open = %d, want 0", got)
	}
}
