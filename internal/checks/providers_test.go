package checks

import (
	"context"
	"testing"
)

func TestSimulatedRegistryCoversAllTypes(t *testing.T) {
	r := NewSimulatedRegistry()
	for _, ct := range []CheckType{
		TypeKYC, TypeKYBCompany, TypeKYBUBO, TypeKYBDirector,
		TypeAML, TypeDevice, TypeIPRisk,
	} {
		if _, err := r.Provider(ct); err != nil {
			t.Errorf("no provider for %s: %v", ct, err)
		}
	}

	if _, err := r.Provider(CheckType("astrology")); err == nil {
		t.Error("expected error for unknown check type")
	}
}

func TestProvidersNormalizeShape(t *testing.T) {
	snap := Snapshot{
		ApplicationID:      "app_1",
		CustomerType:       "business",
		FullName:           "Ada Osei",
		DateOfBirth:        "1990-04-02",
		Email:              "ada@example.com",
		DocumentRef:        "doc_123",
		BusinessName:       "Osei Trading Ltd",
		RegistrationNumber: "RC-4471",
		BeneficialOwners:   []string{"Ada Osei"},
		Directors:          []string{"Ada Osei", "Kofi Mensah"},
		IPAddress:          "203.0.113.9",
		DeviceID:           "dev-abc",
	}

	r := NewSimulatedRegistry()
	for _, ct := range []CheckType{
		TypeKYC, TypeKYBCompany, TypeKYBUBO, TypeKYBDirector,
		TypeAML, TypeDevice, TypeIPRisk,
	} {
		p, _ := r.Provider(ct)
		result, err := p.Execute(context.Background(), snap)
		if err != nil {
			t.Fatalf("%s: %v", ct, err)
		}
		if result.Score < 0 || result.Score > 100 {
			t.Errorf("%s: score %v out of range", ct, result.Score)
		}
		if result.RiskLevel != TierForScore(result.Score) {
			t.Errorf("%s: risk %v inconsistent with score %v", ct, result.RiskLevel, result.Score)
		}
		if len(result.Signals) == 0 {
			t.Errorf("%s: no signals", ct)
		}
		if len(result.Raw) == 0 {
			t.Errorf("%s: no raw payload", ct)
		}
	}
}

func TestSanctionsProviderFlagsMatches(t *testing.T) {
	p := NewSanctionsProvider()

	hit, err := p.Execute(context.Background(), Snapshot{SanctionLevel: 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hit.RiskLevel != RiskHigh {
		t.Errorf("sanctioned entity risk = %v, want high", hit.RiskLevel)
	}

	clean, err := p.Execute(context.Background(), Snapshot{Country: "DE"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if clean.RiskLevel != RiskLow {
		t.Errorf("clean entity risk = %v, want low", clean.RiskLevel)
	}

	jurisdiction, err := p.Execute(context.Background(), Snapshot{Country: "KP"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if jurisdiction.RiskLevel != RiskHigh {
		t.Errorf("high-risk jurisdiction risk = %v, want high", jurisdiction.RiskLevel)
	}
}

func TestDeviceProviderEmulator(t *testing.T) {
	p := NewDeviceProvider()

	result, err := p.Execute(context.Background(), Snapshot{DeviceID: "emu-99"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.RiskLevel != RiskHigh {
		t.Errorf("emulator risk = %v, want high", result.RiskLevel)
	}
}

func TestIPRiskProviderPrivateAddress(t *testing.T) {
	p := NewIPRiskProvider()

	result, err := p.Execute(context.Background(), Snapshot{IPAddress: "10.0.0.4"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.RiskLevel == RiskLow {
		t.Errorf("private address risk = %v, want elevated", result.RiskLevel)
	}

	garbage, err := p.Execute(context.Background(), Snapshot{IPAddress: "not-an-ip"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if garbage.RiskLevel != RiskHigh {
		t.Errorf("unparseable address risk = %v, want high", garbage.RiskLevel)
	}
}

func TestTierForScoreBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{100, RiskLow},
		{75, RiskLow},
		{74.9, RiskMedium},
		{50, RiskMedium},
		{49.9, RiskHigh},
		{0, RiskHigh},
	}
	for _, tt := range tests {
		if got := TierForScore(tt.score); got != tt.want {
			t.Errorf("TierForScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}
