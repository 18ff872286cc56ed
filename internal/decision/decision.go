// Package decision implements the policy that turns a set of completed
// verification checks into an approve / requires-review outcome.
//
// The policy is deliberately conservative: the overall score is the plain
// mean of all check scores (failed checks contribute zero), and approval
// additionally requires that no single check came back high risk. One
// sanctions hit therefore always forces manual review, no matter how well
// the other checks scored. Requires-review is a normal outcome, not an
// error.
package decision

import (
	"math"
	"sort"

	"github.com/ITDevS919/trustverify/internal/checks"
)

// Decision is the binary outcome of the policy.
type Decision string

const (
	Approved       Decision = "approved"
	RequiresReview Decision = "requires_review"
)

// Thresholds for the check-aggregate scale. These are distinct from the
// entity-level trust tiers in the trust package; the two scales must not be
// mixed.
const (
	ApprovalThreshold = 75.0
	riskLowThreshold  = 85.0
	riskMedThreshold  = 70.0

	// SignalPassThreshold gates the per-signal booleans (kycVerified,
	// amlCleared, deviceVerified, ipVerified) persisted for downstream
	// consumers.
	SignalPassThreshold = 80.0
)

// Outcome is the aggregate result over an application's checks.
type Outcome struct {
	OverallScore float64          `json:"overallScore"`
	RiskLevel    checks.RiskLevel `json:"riskLevel"`
	Decision     Decision         `json:"decision"`
}

// Decide aggregates check results into an outcome. Commutative over the
// input: shuffling the slice never changes the result. Failed checks count
// as score 0 and risk high.
func Decide(results []*checks.Check) Outcome {
	if len(results) == 0 {
		return Outcome{Decision: RequiresReview, RiskLevel: checks.RiskHigh}
	}

	var sum float64
	anyHigh := false
	for _, c := range results {
		sum += c.EffectiveScore()
		if c.EffectiveRisk() == checks.RiskHigh {
			anyHigh = true
		}
	}

	overall := math.Round(sum/float64(len(results))*10) / 10

	var risk checks.RiskLevel
	switch {
	case overall >= riskLowThreshold:
		risk = checks.RiskLow
	case overall >= riskMedThreshold:
		risk = checks.RiskMedium
	default:
		risk = checks.RiskHigh
	}

	d := RequiresReview
	if overall >= ApprovalThreshold && !anyHigh {
		d = Approved
	}

	return Outcome{OverallScore: overall, RiskLevel: risk, Decision: d}
}

// SignalMarks are the per-signal pass/fail booleans derived from check
// scores, for consumers that need a single flag per signal rather than the
// composite decision.
type SignalMarks struct {
	KYCVerified    bool
	AMLCleared     bool
	DeviceVerified bool
	IPVerified     bool
}

// Marks derives the per-signal booleans. KYC passes on either the individual
// identity check or the company-registry check, whichever applies.
func Marks(results []*checks.Check) SignalMarks {
	var m SignalMarks
	for _, c := range results {
		if c.Status != checks.StatusCompleted || c.Score == nil || *c.Score < SignalPassThreshold {
			continue
		}
		switch c.Type {
		case checks.TypeKYC, checks.TypeKYBCompany:
			m.KYCVerified = true
		case checks.TypeAML:
			m.AMLCleared = true
		case checks.TypeDevice:
			m.DeviceVerified = true
		case checks.TypeIPRisk:
			m.IPVerified = true
		}
	}
	return m
}

// SortedSignals flattens and sorts all signals across checks for audit
// presentation.
func SortedSignals(results []*checks.Check) []string {
	var all []string
	for _, c := range results {
		all = append(all, c.Signals...)
	}
	sort.Strings(all)
	return all
}
