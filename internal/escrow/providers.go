package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/ITDevS919/trustverify/internal/idgen"
)

// SimulatedProvider is an in-process escrow provider for demo/development
// mode. Holds live only in memory.
type SimulatedProvider struct {
	mu    sync.Mutex
	holds map[string]string // ref -> state
}

// NewSimulatedProvider creates a simulated escrow provider.
func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{holds: make(map[string]string)}
}

func (p *SimulatedProvider) Name() string { return "simulated" }

func (p *SimulatedProvider) CreateHold(ctx context.Context, amount float64, currency, payerID, payeeID string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("hold amount must be positive, got %.2f", amount)
	}
	ref := idgen.WithPrefix("simhold_")
	p.mu.Lock()
	p.holds[ref] = "held"
	p.mu.Unlock()
	return ref, nil
}

func (p *SimulatedProvider) Release(ctx context.Context, ref string, amount *float64) error {
	return p.settle(ref, "released")
}

func (p *SimulatedProvider) Refund(ctx context.Context, ref, reason string) error {
	return p.settle(ref, "refunded")
}

func (p *SimulatedProvider) settle(ref, state string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.holds[ref]
	if !ok {
		return fmt.Errorf("unknown hold %s", ref)
	}
	if current != "held" {
		return fmt.Errorf("hold %s already %s", ref, current)
	}
	p.holds[ref] = state
	return nil
}

func (p *SimulatedProvider) Status(ctx context.Context, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.holds[ref]
	if !ok {
		return "", fmt.Errorf("unknown hold %s", ref)
	}
	return state, nil
}
