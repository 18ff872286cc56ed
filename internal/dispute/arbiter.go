package dispute

import (
	"context"
	"fmt"
	"math"

	"github.com/ITDevS919/trustverify/internal/trust"
)

// SimulatedArbiter renders deterministic verdicts from evidence volume and
// the parties' trust scores. Stands in for a real analysis backend in
// demo/development mode.
type SimulatedArbiter struct {
	trustSvc *trust.Service
}

// NewSimulatedArbiter creates a simulated arbiter.
func NewSimulatedArbiter(trustSvc *trust.Service) *SimulatedArbiter {
	return &SimulatedArbiter{trustSvc: trustSvc}
}

// Review weighs each party's evidence count and trust score. The margin
// between the two sides sets the confidence: a one-sided dispute produces
// a confident verdict, a balanced one produces a low-confidence split that
// the service escalates.
func (a *SimulatedArbiter) Review(ctx context.Context, d *Dispute) (*Verdict, error) {
	raiserWeight := float64(d.EvidenceFrom(d.RaisedBy)) * 10
	respondentWeight := float64(d.EvidenceFrom(d.RespondentID)) * 10

	if a.trustSvc != nil {
		if e, err := a.trustSvc.GetEntity(ctx, d.RaisedBy); err == nil {
			raiserWeight += e.TrustScore / 2
		}
		if e, err := a.trustSvc.GetEntity(ctx, d.RespondentID); err == nil {
			respondentWeight += e.TrustScore / 2
		}
	}

	total := raiserWeight + respondentWeight
	if total == 0 {
		return &Verdict{
			Outcome:    VerdictSplit,
			Confidence: 0,
			Reasoning:  "no evidence or trust signal from either party",
		}, nil
	}

	margin := math.Abs(raiserWeight-respondentWeight) / total
	confidence := math.Min(1, 0.5+margin)

	outcome := VerdictSplit
	winner := "neither party"
	switch {
	case raiserWeight > respondentWeight:
		winner = d.RaisedBy
		if d.RaisedBy == d.BuyerID {
			outcome = VerdictBuyer
		} else {
			outcome = VerdictSeller
		}
	case respondentWeight > raiserWeight:
		winner = d.RespondentID
		if d.RespondentID == d.BuyerID {
			outcome = VerdictBuyer
		} else {
			outcome = VerdictSeller
		}
	}

	return &Verdict{
		Outcome:    outcome,
		Confidence: round2(confidence),
		Reasoning: fmt.Sprintf("evidence and trust weigh %.1f vs %.1f in favor of %s",
			raiserWeight, respondentWeight, winner),
	}, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
