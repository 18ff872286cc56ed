// Package onboarding manages verification applications.
//
// An application is a single onboarding attempt for an entity. Submitting
// one creates the full set of typed verification checks atomically with the
// application record, so a crash before dispatch still leaves an auditable
// pending check per type. Running verification fans the checks out to their
// providers and feeds the completed set through the decision policy.
package onboarding

import (
	"context"
	"errors"
	"time"

	"github.com/ITDevS919/trustverify/internal/checks"
	"github.com/ITDevS919/trustverify/internal/decision"
)

var (
	ErrApplicationNotFound  = errors.New("application not found")
	ErrApplicationTerminal  = errors.New("application is in a terminal state")
	ErrApplicationCancelled = errors.New("application was cancelled")
	ErrVerificationRunning  = errors.New("verification already in progress")
)

// Status is the lifecycle state of an application.
type Status string

const (
	StatusPending                Status = "pending"
	StatusDocumentsUploaded      Status = "documents_uploaded"
	StatusVerificationInProgress Status = "verification_in_progress"
	StatusApproved               Status = "approved"
	StatusRequiresReview         Status = "requires_review"
	StatusCancelled              Status = "cancelled"
)

// Application is one onboarding or transaction-verification request.
type Application struct {
	ID           string `json:"id"`
	EntityID     string `json:"entityId"`
	CustomerType string `json:"customerType"` // "individual" or "business"

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
	IPAddress string `json:"ipAddress,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`

	Status      Status `json:"status"`
	CurrentStep string `json:"currentStep"`

	// Set once verification completes.
	OverallTrustScore *float64          `json:"overallTrustScore,omitempty"`
	RiskLevel         checks.RiskLevel  `json:"riskLevel,omitempty"`
	Decision          decision.Decision `json:"decision,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Terminal reports whether the application reached a final state. An
// application with a stamped completedAt never leaves it.
func (a *Application) Terminal() bool {
	switch a.Status {
	case StatusApproved, StatusRequiresReview, StatusCancelled:
		return true
	}
	return false
}

// Snapshot builds the immutable view handed to check providers.
func (a *Application) Snapshot(sanctionLevel int) checks.Snapshot {
	return checks.Snapshot{
		ApplicationID:      a.ID,
		EntityID:           a.EntityID,
		CustomerType:       a.CustomerType,
		FullName:           a.FullName,
		DateOfBirth:        a.DateOfBirth,
		Email:              a.Email,
		Country:            a.Country,
		DocumentRef:        a.DocumentRef,
		BusinessName:       a.BusinessName,
		RegistrationNumber: a.RegistrationNumber,
		BeneficialOwners:   a.BeneficialOwners,
		Directors:          a.Directors,
		IPAddress:          a.IPAddress,
		DeviceID:           a.DeviceID,
		SanctionLevel:      sanctionLevel,
	}
}

// Store persists applications. Create must write the application and its
// pending checks in one atomic unit.
type Store interface {
	Create(ctx context.Context, app *Application, pending []*checks.Check) error
	Get(ctx context.Context, id string) (*Application, error)
	Update(ctx context.Context, app *Application) error
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*Application, error)
}
