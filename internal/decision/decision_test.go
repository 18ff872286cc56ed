package decision

import (
	"math/rand"
	"testing"

	"github.com/ITDevS919/trustverify/internal/checks"
)

func completedCheck(t checks.CheckType, score float64) *checks.Check {
	s := score
	return &checks.Check{
		Type:      t,
		Status:    checks.StatusCompleted,
		Score:     &s,
		RiskLevel: checks.TierForScore(score),
	}
}

func failedCheck(t checks.CheckType) *checks.Check {
	zero := 0.0
	return &checks.Check{
		Type:      t,
		Status:    checks.StatusFailed,
		Score:     &zero,
		RiskLevel: checks.RiskHigh,
	}
}

func TestDecideApproves(t *testing.T) {
	// kyc=90, aml=95, device=92, ip=91 → overall 92, low risk, approved.
	results := []*checks.Check{
		completedCheck(checks.TypeKYC, 90),
		completedCheck(checks.TypeAML, 95),
		completedCheck(checks.TypeDevice, 92),
		completedCheck(checks.TypeIPRisk, 91),
	}

	out := Decide(results)
	if out.OverallScore != 92 {
		t.Errorf("overall = %v, want 92", out.OverallScore)
	}
	if out.RiskLevel != checks.RiskLow {
		t.Errorf("risk = %v, want low", out.RiskLevel)
	}
	if out.Decision != Approved {
		t.Errorf("decision = %v, want approved", out.Decision)
	}
}

func TestDecideHighRiskCheckBlocksApproval(t *testing.T) {
	// Same as above but aml=40 (high risk). Mean is still 78.3, above the
	// approval threshold, but the any-high gate must force review.
	results := []*checks.Check{
		completedCheck(checks.TypeKYC, 90),
		completedCheck(checks.TypeAML, 40),
		completedCheck(checks.TypeDevice, 92),
		completedCheck(checks.TypeIPRisk, 91),
	}

	out := Decide(results)
	if out.OverallScore < ApprovalThreshold {
		t.Fatalf("test premise broken: overall %v below threshold", out.OverallScore)
	}
	if out.Decision != RequiresReview {
		t.Errorf("decision = %v, want requires_review", out.Decision)
	}
}

func TestDecideFailedCheckBlocksApproval(t *testing.T) {
	results := []*checks.Check{
		completedCheck(checks.TypeKYC, 100),
		completedCheck(checks.TypeAML, 100),
		completedCheck(checks.TypeDevice, 100),
		failedCheck(checks.TypeIPRisk),
	}

	out := Decide(results)
	// Failed check contributes 0 to the mean and forces high risk.
	if out.OverallScore != 75 {
		t.Errorf("overall = %v, want 75", out.OverallScore)
	}
	if out.Decision != RequiresReview {
		t.Errorf("decision = %v, want requires_review", out.Decision)
	}
}

func TestDecideCommutative(t *testing.T) {
	results := []*checks.Check{
		completedCheck(checks.TypeKYC, 83),
		completedCheck(checks.TypeAML, 67),
		completedCheck(checks.TypeDevice, 92),
		failedCheck(checks.TypeIPRisk),
		completedCheck(checks.TypeKYBCompany, 71),
	}

	want := Decide(results)
	for i := 0; i < 20; i++ {
		shuffled := make([]*checks.Check, len(results))
		copy(shuffled, results)
		rand.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := Decide(shuffled)
		if got != want {
			t.Fatalf("shuffle changed outcome: %+v != %+v", got, want)
		}
	}
}

func TestDecideBoundary(t *testing.T) {
	// Exactly at the approval threshold with no high-risk checks.
	results := []*checks.Check{
		completedCheck(checks.TypeKYC, 75),
		completedCheck(checks.TypeAML, 75),
	}
	if out := Decide(results); out.Decision != Approved {
		t.Errorf("decision at threshold = %v, want approved", out.Decision)
	}

	// A hair below.
	results = []*checks.Check{
		completedCheck(checks.TypeKYC, 75),
		completedCheck(checks.TypeAML, 74),
	}
	if out := Decide(results); out.Decision != RequiresReview {
		t.Errorf("decision below threshold = %v, want requires_review", out.Decision)
	}
}

func TestDecideRiskTiers(t *testing.T) {
	tests := []struct {
		scores []float64
		want   checks.RiskLevel
	}{
		{[]float64{90, 90}, checks.RiskLow},    // 90
		{[]float64{85, 85}, checks.RiskLow},    // 85 boundary
		{[]float64{84, 84}, checks.RiskMedium}, // 84
		{[]float64{70, 70}, checks.RiskMedium}, // 70 boundary
		{[]float64{69, 69}, checks.RiskHigh},   // 69
	}

	for _, tt := range tests {
		var results []*checks.Check
		for _, s := range tt.scores {
			results = append(results, completedCheck(checks.TypeKYC, s))
		}
		if got := Decide(results).RiskLevel; got != tt.want {
			t.Errorf("risk for %v = %v, want %v", tt.scores, got, tt.want)
		}
	}
}

func TestDecideEmpty(t *testing.T) {
	out := Decide(nil)
	if out.Decision != RequiresReview {
		t.Errorf("empty decision = %v, want requires_review", out.Decision)
	}
}

func TestMarks(t *testing.T) {
	results := []*checks.Check{
		completedCheck(checks.TypeKYC, 85),
		completedCheck(checks.TypeAML, 79), // below the signal gate
		completedCheck(checks.TypeDevice, 80),
		failedCheck(checks.TypeIPRisk),
	}

	m := Marks(results)
	if !m.KYCVerified {
		t.Error("kyc should be marked verified at 85")
	}
	if m.AMLCleared {
		t.Error("aml should not clear at 79")
	}
	if !m.DeviceVerified {
		t.Error("device should be marked verified at exactly 80")
	}
	if m.IPVerified {
		t.Error("failed check must not set its signal mark")
	}
}

func TestMarksKYBCompanyCountsAsKYC(t *testing.T) {
	m := Marks([]*checks.Check{completedCheck(checks.TypeKYBCompany, 90)})
	if !m.KYCVerified {
		t.Error("kyb_company at 90 should set kycVerified")
	}
}
