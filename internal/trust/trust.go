// Package trust implements entity trust scoring for TrustVerify.
//
// A trust score is calculated from identity and behavioral signals:
// - Verification level and account age
// - Transaction history and dispute ratio
// - Transaction amount and payment method
// - Provider-sourced signals (domain, device, geolocation, communication, urgency)
//
// Every factor is normalized to a 0-100 sub-score where higher means safer.
// The aggregator combines sub-scores into a single 0-100 trust score, a risk
// tier, advisory flags, and a confidence estimate.
package trust

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrEntityExists   = errors.New("entity already exists")
)

// Level represents an entity's identity verification level.
type Level string

const (
	LevelNone  Level = "none"
	LevelBasic Level = "basic"
	LevelFull  Level = "full"
)

// RiskLevel is the coarse bucket derived from a trust score.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Entity is a user or organization being scored.
type Entity struct {
	ID                     string  `json:"id"`
	Kind                   string  `json:"kind"` // "individual" or "business"
	DisplayName            string  `json:"displayName,omitempty"`
	VerificationLevel      Level   `json:"verificationLevel"`
	TrustScore             float64 `json:"trustScore"` // 0-100
	CompletedTransactions  int     `json:"completedTransactions"`
	SuccessfulTransactions int     `json:"successfulTransactions"`
	Disputes               int     `json:"disputes"`
	SanctionLevel          int     `json:"sanctionLevel"` // >0 suppresses fast-track privileges

	// Per-signal verification booleans set by the decision policy.
	KYCVerified    bool `json:"kycVerified"`
	AMLCleared     bool `json:"amlCleared"`
	DeviceVerified bool `json:"deviceVerified"`
	IPVerified     bool `json:"ipVerified"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FastTrackEligible reports whether the entity qualifies for expedited
// handling. Any sanction level suppresses fast-track regardless of score.
func (e *Entity) FastTrackEligible() bool {
	return e.SanctionLevel == 0 &&
		e.VerificationLevel == LevelFull &&
		e.TrustScore >= 85
}

// Store persists entities.
type Store interface {
	Create(ctx context.Context, entity *Entity) error
	Get(ctx context.Context, id string) (*Entity, error)
	Update(ctx context.Context, entity *Entity) error
	List(ctx context.Context, limit int) ([]*Entity, error)
}
