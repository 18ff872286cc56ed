package trust

import "time"

// FactorContext carries the per-request signals that are not part of the
// entity's accumulated state. Provider-sourced signals are optional; when
// absent the factor defaults to a neutral mid score and does not count
// toward confidence.
type FactorContext struct {
	TransactionAmount float64
	PaymentMethod     string

	DomainReputation     *float64 // 0-100, higher is safer
	DeviceFingerprint    *float64
	Geolocation          *float64
	CommunicationPattern *float64
	UrgencySignals       *float64 // low values indicate urgency pressure

	Now time.Time // zero means time.Now()
}

// Factors is the fixed-shape record of sub-scores produced by the factor
// scorer. Every sub-score is on a 0-100 scale where higher means safer.
type Factors struct {
	VerificationLevel    float64 `json:"verificationLevel"`
	AccountAge           float64 `json:"accountAge"`
	TransactionHistory   float64 `json:"transactionHistory"`
	DisputeRatio         float64 `json:"disputeRatio"`
	TransactionAmount    float64 `json:"transactionAmount"`
	PaymentMethod        float64 `json:"paymentMethod"`
	DomainReputation     float64 `json:"domainReputation"`
	DeviceFingerprint    float64 `json:"deviceFingerprint"`
	Geolocation          float64 `json:"geolocation"`
	CommunicationPattern float64 `json:"communicationPattern"`
	UrgencySignals       float64 `json:"urgencySignals"`

	// Populated counts the factors backed by observed data rather than
	// defaults. Feeds the aggregator's confidence estimate.
	Populated int `json:"populated"`
}

// FactorCount is the number of factors in a Factors record.
const FactorCount = 11

const neutralScore = 50

// ScoreFactors computes the sub-score record for an entity in the given
// context. Pure function of the snapshot: no side effects, no I/O.
func ScoreFactors(entity *Entity, fctx FactorContext) Factors {
	now := fctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	f := Factors{}

	f.VerificationLevel = verificationScore(entity.VerificationLevel)
	if entity.VerificationLevel != LevelNone {
		f.Populated++
	}

	f.AccountAge = accountAgeScore(entity.CreatedAt, now)
	if !entity.CreatedAt.IsZero() {
		f.Populated++
	}

	f.TransactionHistory = transactionHistoryScore(entity.CompletedTransactions)
	if entity.CompletedTransactions > 0 {
		f.Populated++
	}

	f.DisputeRatio = disputeRatioScore(entity.Disputes, entity.CompletedTransactions)
	if entity.CompletedTransactions > 0 {
		f.Populated++
	}

	f.TransactionAmount = amountScore(fctx.TransactionAmount)
	if fctx.TransactionAmount > 0 {
		f.Populated++
	}

	f.PaymentMethod = paymentMethodScore(fctx.PaymentMethod)
	if fctx.PaymentMethod != "" {
		f.Populated++
	}

	f.DomainReputation = providerScore(fctx.DomainReputation, &f.Populated)
	f.DeviceFingerprint = providerScore(fctx.DeviceFingerprint, &f.Populated)
	f.Geolocation = providerScore(fctx.Geolocation, &f.Populated)
	f.CommunicationPattern = providerScore(fctx.CommunicationPattern, &f.Populated)
	f.UrgencySignals = providerScore(fctx.UrgencySignals, &f.Populated)

	return f
}

func verificationScore(level Level) float64 {
	switch level {
	case LevelFull:
		return 100
	case LevelBasic:
		return 48
	default:
		return 0
	}
}

// accountAgeScore buckets account age by days: <7, <30, <90, <365, older.
func accountAgeScore(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	days := now.Sub(createdAt).Hours() / 24
	switch {
	case days < 7:
		return 20
	case days < 30:
		return 40
	case days < 90:
		return 60
	case days < 365:
		return 80
	default:
		return 100
	}
}

// transactionHistoryScore buckets by completed transaction count: 0, <5, <20, <50, more.
func transactionHistoryScore(completed int) float64 {
	switch {
	case completed <= 0:
		return 0
	case completed < 5:
		return 25
	case completed < 20:
		return 50
	case completed < 50:
		return 75
	default:
		return 100
	}
}

// disputeRatioScore buckets by disputes/transactions: 0, <0.05, <0.1, <0.2, worse.
// No dispute history at all is the best possible signal; an entity with no
// transactions has no ratio and scores neutral.
func disputeRatioScore(disputes, transactions int) float64 {
	if transactions <= 0 {
		return neutralScore
	}
	ratio := float64(disputes) / float64(transactions)
	switch {
	case ratio == 0:
		return 100
	case ratio < 0.05:
		return 75
	case ratio < 0.1:
		return 50
	case ratio < 0.2:
		return 25
	default:
		return 0
	}
}

// amountScore is inversely proportional to the transaction amount: larger
// transactions carry more exposure.
func amountScore(amount float64) float64 {
	switch {
	case amount <= 0:
		return neutralScore
	case amount < 100:
		return 100
	case amount < 500:
		return 75
	case amount < 1000:
		return 50
	case amount < 5000:
		return 25
	default:
		return 0
	}
}

func paymentMethodScore(method string) float64 {
	switch method {
	case "escrow":
		return 100
	case "card":
		return 80
	case "bank_transfer":
		return 60
	case "wire":
		return 40
	case "crypto":
		return 30
	case "":
		return neutralScore
	default:
		return neutralScore
	}
}

func providerScore(v *float64, populated *int) float64 {
	if v == nil {
		return neutralScore
	}
	*populated++
	score := *v
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
