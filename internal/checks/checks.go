// Package checks implements typed verification checks and their concurrent
// orchestration.
//
// Each application gets a fixed set of checks derived from its customer type.
// Checks run against pluggable providers (identity, business registry,
// beneficial owner, director, AML/sanctions, device intelligence, IP risk)
// and always normalize to the same shape: a 0-100 score, a risk tier, and a
// list of human-readable signals. That uniform shape is what makes
// aggregation by the decision policy possible.
//
// Providers fail closed: a timeout or provider error resolves the check to
// failed with high risk, never to a silent pass.
package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCheckNotFound    = errors.New("check not found")
	ErrUnknownCheckType = errors.New("unknown check type")
	ErrNoProvider       = errors.New("no provider registered for check type")
)

// CheckType identifies one kind of verification task.
type CheckType string

const (
	TypeKYC         CheckType = "kyc"
	TypeKYBCompany  CheckType = "kyb_company"
	TypeKYBUBO      CheckType = "kyb_ubo"
	TypeKYBDirector CheckType = "kyb_director"
	TypeAML         CheckType = "aml"
	TypeDevice      CheckType = "device_intelligence"
	TypeIPRisk      CheckType = "ip_risk"
)

// Status is the lifecycle state of a check.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// RiskLevel is the three-tier scale used for check results. It is distinct
// from the five-tier entity scale in the trust package.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// TierForScore maps a 0-100 check score onto its risk tier.
func TierForScore(score float64) RiskLevel {
	switch {
	case score >= 75:
		return RiskLow
	case score >= 50:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Check is one verification task belonging to an application.
type Check struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	Type          CheckType `json:"checkType"`
	Status        Status    `json:"status"`

	// Score is authoritative only when Status == completed. A failed check
	// is treated as score 0, risk high by the decision policy.
	Score            *float64        `json:"score,omitempty"`
	RiskLevel        RiskLevel       `json:"riskLevel,omitempty"`
	Signals          []string        `json:"signals,omitempty"`
	RawResponse      json.RawMessage `json:"rawResponse,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Terminal reports whether the check reached a final state.
func (c *Check) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}

// EffectiveScore returns the score the decision policy must use: the real
// score for completed checks, zero otherwise.
func (c *Check) EffectiveScore() float64 {
	if c.Status == StatusCompleted && c.Score != nil {
		return *c.Score
	}
	return 0
}

// EffectiveRisk returns the risk tier the decision policy must use: failed
// and non-terminal checks count as high risk.
func (c *Check) EffectiveRisk() RiskLevel {
	if c.Status == StatusCompleted && c.RiskLevel != "" {
		return c.RiskLevel
	}
	return RiskHigh
}

// Snapshot is the immutable view of an application handed to providers.
type Snapshot struct {
	ApplicationID string `json:"applicationId"`
	EntityID      string `json:"entityId"`
	CustomerType  string `json:"customerType"` // "individual" or "business"

	// Identity attributes
	FullName    string `json:"fullName,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Email       string `json:"email,omitempty"`
	Country     string `json:"country,omitempty"`
	DocumentRef string `json:"documentRef,omitempty"`

	// Business attributes
	BusinessName       string   `json:"businessName,omitempty"`
	RegistrationNumber string   `json:"registrationNumber,omitempty"`
	BeneficialOwners   []string `json:"beneficialOwners,omitempty"`
	Directors          []string `json:"directors,omitempty"`

	// Behavioral attributes
	IPAddress     string `json:"ipAddress,omitempty"`
	DeviceID      string `json:"deviceId,omitempty"`
	SanctionLevel int    `json:"sanctionLevel"`
}

// Result is the uniform provider output.
type Result struct {
	Score     float64         `json:"score"` // 0-100
	RiskLevel RiskLevel       `json:"riskLevel"`
	Signals   []string        `json:"signals"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	ElapsedMs int64           `json:"elapsedMs"`
}

// Provider executes one check type against an external verification service.
// Implementations must fail closed: an error return means the orchestrator
// records the check as failed with high risk.
type Provider interface {
	Type() CheckType
	Execute(ctx context.Context, snap Snapshot) (*Result, error)
}

// RequiredChecks returns the check set for a customer type.
func RequiredChecks(customerType string) ([]CheckType, error) {
	switch customerType {
	case "individual":
		return []CheckType{TypeKYC, TypeAML, TypeDevice, TypeIPRisk}, nil
	case "business":
		return []CheckType{TypeKYBCompany, TypeKYBUBO, TypeKYBDirector, TypeAML, TypeDevice, TypeIPRisk}, nil
	default:
		return nil, fmt.Errorf("%w: customer type %q", ErrUnknownCheckType, customerType)
	}
}

// ValidCheckType reports whether t is a known check type.
func ValidCheckType(t CheckType) bool {
	switch t {
	case TypeKYC, TypeKYBCompany, TypeKYBUBO, TypeKYBDirector, TypeAML, TypeDevice, TypeIPRisk:
		return true
	}
	return false
}

// Store persists checks.
type Store interface {
	CreateBatch(ctx context.Context, checks []*Check) error
	Get(ctx context.Context, id string) (*Check, error)
	Update(ctx context.Context, check *Check) error
	ListByApplication(ctx context.Context, applicationID string) ([]*Check, error)
}
