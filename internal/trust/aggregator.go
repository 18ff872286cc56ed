package trust

import (
	"math"
	"time"
)

// Flag is an advisory annotation emitted alongside a trust score. Flags do
// not feed back into the score; they exist so downstream policy can surface
// the dominant concern to reviewers.
type Flag string

const (
	FlagUnverifiedUser       Flag = "UNVERIFIED_USER"
	FlagNewAccount           Flag = "NEW_ACCOUNT"
	FlagHighDisputeRatio     Flag = "HIGH_DISPUTE_RATIO"
	FlagHighValueTransaction Flag = "HIGH_VALUE_TRANSACTION"
	FlagUrgencyPressure      Flag = "URGENCY_PRESSURE"
)

// Weights holds the relative importance of each factor. The raw reference
// constants sum to 1.60; the aggregator renormalizes them to 1.0 at
// construction so the weighted sum of 0-100 sub-scores tops out at exactly
// 100. The relative ordering of the factors is preserved.
type Weights struct {
	VerificationLevel    float64
	AccountAge           float64
	TransactionHistory   float64
	DisputeRatio         float64
	TransactionAmount    float64
	PaymentMethod        float64
	DomainReputation     float64
	DeviceFingerprint    float64
	Geolocation          float64
	CommunicationPattern float64
	UrgencySignals       float64
}

// DefaultWeights are the raw reference weights before renormalization.
var DefaultWeights = Weights{
	VerificationLevel:    0.25,
	AccountAge:           0.15,
	TransactionHistory:   0.25,
	DisputeRatio:         0.20,
	TransactionAmount:    0.10,
	PaymentMethod:        0.05,
	DomainReputation:     0.15,
	DeviceFingerprint:    0.10,
	Geolocation:          0.10,
	CommunicationPattern: 0.15,
	UrgencySignals:       0.10,
}

func (w Weights) sum() float64 {
	return w.VerificationLevel + w.AccountAge + w.TransactionHistory +
		w.DisputeRatio + w.TransactionAmount + w.PaymentMethod +
		w.DomainReputation + w.DeviceFingerprint + w.Geolocation +
		w.CommunicationPattern + w.UrgencySignals
}

// normalized returns a copy of w scaled so the weights sum to 1.0.
func (w Weights) normalized() Weights {
	total := w.sum()
	if total <= 0 {
		return w
	}
	return Weights{
		VerificationLevel:    w.VerificationLevel / total,
		AccountAge:           w.AccountAge / total,
		TransactionHistory:   w.TransactionHistory / total,
		DisputeRatio:         w.DisputeRatio / total,
		TransactionAmount:    w.TransactionAmount / total,
		PaymentMethod:        w.PaymentMethod / total,
		DomainReputation:     w.DomainReputation / total,
		DeviceFingerprint:    w.DeviceFingerprint / total,
		Geolocation:          w.Geolocation / total,
		CommunicationPattern: w.CommunicationPattern / total,
		UrgencySignals:       w.UrgencySignals / total,
	}
}

// Assessment is the aggregator's output for one scoring run.
type Assessment struct {
	Score       float64   `json:"score"` // 0-100, rounded to 1 decimal place
	RiskLevel   RiskLevel `json:"riskLevel"`
	Flags       []Flag    `json:"flags"`
	Confidence  float64   `json:"confidence"` // 0-1, data completeness
	Factors     Factors   `json:"factors"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Aggregator combines factor sub-scores into a trust assessment.
type Aggregator struct {
	weights Weights
}

// NewAggregator creates an aggregator with the default weights.
func NewAggregator() *Aggregator {
	return &Aggregator{weights: DefaultWeights.normalized()}
}

// NewAggregatorWithWeights creates an aggregator with custom weights.
// Weights are renormalized to sum to 1.0.
func NewAggregatorWithWeights(w Weights) *Aggregator {
	return &Aggregator{weights: w.normalized()}
}

// Flag thresholds on the 0-100 sub-score scale. A sub-score at or below the
// threshold raises the corresponding flag.
const (
	flagVerificationBelow = 0  // only entirely unverified entities
	flagAccountAgeBelow   = 40 // younger than 30 days
	flagDisputeBelow      = 50 // dispute ratio 0.1 or worse
	flagAmountBelow       = 25 // amounts of 1000 and above
	flagUrgencyBelow      = 40 // strong urgency signal
)

// Aggregate computes the weighted trust score, risk tier, advisory flags,
// and confidence for a factor record. Pure function: identical inputs yield
// identical outputs.
func (a *Aggregator) Aggregate(f Factors) *Assessment {
	w := a.weights
	score := f.VerificationLevel*w.VerificationLevel +
		f.AccountAge*w.AccountAge +
		f.TransactionHistory*w.TransactionHistory +
		f.DisputeRatio*w.DisputeRatio +
		f.TransactionAmount*w.TransactionAmount +
		f.PaymentMethod*w.PaymentMethod +
		f.DomainReputation*w.DomainReputation +
		f.DeviceFingerprint*w.DeviceFingerprint +
		f.Geolocation*w.Geolocation +
		f.CommunicationPattern*w.CommunicationPattern +
		f.UrgencySignals*w.UrgencySignals

	score = math.Round(score*10) / 10
	score = math.Max(0, math.Min(100, score))

	var flags []Flag
	if f.VerificationLevel <= flagVerificationBelow {
		flags = append(flags, FlagUnverifiedUser)
	}
	if f.AccountAge <= flagAccountAgeBelow {
		flags = append(flags, FlagNewAccount)
	}
	if f.DisputeRatio <= flagDisputeBelow {
		flags = append(flags, FlagHighDisputeRatio)
	}
	if f.TransactionAmount <= flagAmountBelow {
		flags = append(flags, FlagHighValueTransaction)
	}
	if f.UrgencySignals <= flagUrgencyBelow {
		flags = append(flags, FlagUrgencyPressure)
	}

	populated := f.Populated
	if populated > FactorCount {
		populated = FactorCount
	}
	confidence := float64(populated) / FactorCount

	return &Assessment{
		Score:       score,
		RiskLevel:   Classify(score),
		Flags:       flags,
		Confidence:  math.Round(confidence*1000) / 1000,
		Factors:     f,
		EvaluatedAt: time.Now(),
	}
}

// Classify maps a 0-100 trust score onto its risk tier. Boundaries are
// inclusive at the lower edge of each tier.
func Classify(score float64) RiskLevel {
	switch {
	case score >= 85:
		return RiskSafe
	case score >= 70:
		return RiskLow
	case score >= 50:
		return RiskMedium
	case score >= 30:
		return RiskHigh
	default:
		return RiskCritical
	}
}
