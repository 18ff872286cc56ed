package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// The simulated providers below stand in for real verification vendors in
// development mode and tests. They are deterministic functions of the
// snapshot so orchestration and decision behavior stays reproducible, but
// they normalize their output exactly the way a real integration would:
// 0-100 score, risk tier, signal list, opaque raw payload.

func rawPayload(provider string, fields map[string]interface{}) json.RawMessage {
	payload := map[string]interface{}{"provider": provider, "checkedAt": time.Now().UTC()}
	for k, v := range fields {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func newResult(score float64, signals []string, raw json.RawMessage) *Result {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return &Result{
		Score:     score,
		RiskLevel: TierForScore(score),
		Signals:   signals,
		Raw:       raw,
	}
}

// --- Identity (KYC) ---

// IdentityProvider simulates a document/identity match service.
type IdentityProvider struct{}

// NewIdentityProvider creates the simulated KYC provider.
func NewIdentityProvider() *IdentityProvider { return &IdentityProvider{} }

func (p *IdentityProvider) Type() CheckType { return TypeKYC }

func (p *IdentityProvider) Execute(ctx context.Context, snap Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	score := 100.0
	var signals []string

	if snap.FullName == "" {
		score -= 40
		signals = append(signals, "no legal name on file")
	}
	if snap.DateOfBirth == "" {
		score -= 15
		signals = append(signals, "date of birth missing")
	}
	if snap.DocumentRef == "" {
		score -= 30
		signals = append(signals, "no identity document uploaded")
	} else {
		signals = append(signals, "identity document reference verified")
	}
	if snap.Email == "" {
		score -= 10
		signals = append(signals, "no contact email")
	}

	return newResult(score, signals, rawPayload("sim-identity", map[string]interface{}{
		"documentRef": snap.DocumentRef,
	})), nil
}

// --- Business registry (KYB company) ---

// CompanyRegistryProvider simulates a company-registry lookup.
type CompanyRegistryProvider struct{}

// NewCompanyRegistryProvider creates the simulated registry provider.
func NewCompanyRegistryProvider() *CompanyRegistryProvider { return &CompanyRegistryProvider{} }

func (p *CompanyRegistryProvider) Type() CheckType { return TypeKYBCompany }

func (p *CompanyRegistryProvider) Execute(ctx context.Context, snap Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if snap.RegistrationNumber == "" {
		return newResult(20, []string{"no company registration number provided"},
			rawPayload("sim-registry", nil)), nil
	}

	score := 95.0
	signals := []string{fmt.Sprintf("registration %s found in registry", snap.RegistrationNumber)}

	if snap.BusinessName == "" {
		score -= 25
		signals = append(signals, "registered name could not be cross-checked")
	}

	return newResult(score, signals, rawPayload("sim-registry", map[string]interface{}{
		"registrationNumber": snap.RegistrationNumber,
		"status":             "active",
	})), nil
}

// --- Beneficial owners (KYB UBO) ---

// BeneficialOwnerProvider simulates ultimate-beneficial-owner screening.
type BeneficialOwnerProvider struct{}

// NewBeneficialOwnerProvider creates the simulated UBO provider.
func NewBeneficialOwnerProvider() *BeneficialOwnerProvider { return &BeneficialOwnerProvider{} }

func (p *BeneficialOwnerProvider) Type() CheckType { return TypeKYBUBO }

func (p *BeneficialOwnerProvider) Execute(ctx context.Context, snap Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(snap.BeneficialOwners) == 0 {
		return newResult(30, []string{"no beneficial owners declared"},
			rawPayload("sim-ubo", nil)), nil
	}

	score := 90.0
	signals := []string{fmt.Sprintf("%d beneficial owners screened", len(snap.BeneficialOwners))}
	if len(snap.BeneficialOwners) > 4 {
		score -= 15
		signals = append(signals, "complex ownership structure")
	}

	return newResult(score, signals, rawPayload("sim-ubo", map[string]interface{}{
		"owners": len(snap.BeneficialOwners),
	})), nil
}

// --- Directors (KYB director) ---

// DirectorProvider simulates director verification.
type DirectorProvider struct{}

// NewDirectorProvider creates the simulated director provider.
func NewDirectorProvider() *DirectorProvider { return &DirectorProvider{} }

func (p *DirectorProvider) Type() CheckType { return TypeKYBDirector }

func (p *DirectorProvider) Execute(ctx context.Context, snap Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(snap.Directors) == 0 {
		return newResult(35, []string{"no directors declared"},
			rawPayload("sim-director", nil)), nil
	}

	return newResult(92, []string{fmt.Sprintf("%d directors verified", len(snap.Directors))},
		rawPayload("sim-director", map[string]interface{}{
			"directors": len(snap.Directors),
		})), nil
}

// --- AML / sanctions ---

// SanctionsProvider simulates an AML/sanctions/PEP screen.
type SanctionsProvider struct{}

// NewSanctionsProvider creates the simulated AML provider.
func NewSanctionsProvider() *SanctionsProvider { return &SanctionsProvider{} }

func (p *SanctionsProvider) Type() CheckType { return TypeAML }

// highRiskJurisdictions is a small illustrative set for the simulator.
var highRiskJurisdictions = map[string]bool{
	"KP": true, "IR": true, "SY": true, "CU": true,
}

func (p *SanctionsProvider) Execute(ctx context.Context, snap Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if snap.SanctionLevel > 0 {
		return newResult(5,
			[]string{fmt.Sprintf("sanctions list match (level %d)", snap.SanctionLevel)},
			rawPayload("sim-aml", map[string]interface{}{"sanctionLevel": snap.SanctionLevel})), nil
	}

	score := 95.0
	signals := []string{"no sanctions or PEP matches"}
	if highRiskJurisdictions[strings.ToUpper(snap.Country)] {
		score = 40
		signals = []string{"high-risk jurisdiction: " + strings.ToUpper(snap.Country)}
	}

	return newResult(score, signals, rawPayload("sim-aml", map[string]interface{}{
		"country": snap.Country,
	})), nil
}

// --- Device intelligence ---

// DeviceProvider simulates device fingerprint reputation.
type DeviceProvider struct{}

// NewDeviceProvider creates the simulated device provider.
func NewDeviceProvider() *DeviceProvider { return &DeviceProvider{} }

func (p *DeviceProvider) Type() CheckType { return TypeDevice }

func (p *DeviceProvider) Execute(ctx context.Context, snap Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if snap.DeviceID == "" {
		return newResult(55, []string{"no device fingerprint collected"},
			rawPayload("sim-device", nil)), nil
	}
	if strings.HasPrefix(snap.DeviceID, "emu-") {
		return newResult(25, []string{"emulator or virtualized device detected"},
			rawPayload("sim-device", map[string]interface{}{"deviceId": snap.DeviceID})), nil
	}

	return newResult(90, []string{"device fingerprint has clean history"},
		rawPayload("sim-device", map[string]interface{}{"deviceId": snap.DeviceID})), nil
}

// --- IP risk ---

// IPRiskProvider simulates IP geolocation and proxy detection.
type IPRiskProvider struct{}

// NewIPRiskProvider creates the simulated IP risk provider.
func NewIPRiskProvider() *IPRiskProvider { return &IPRiskProvider{} }

func (p *IPRiskProvider) Type() CheckType { return TypeIPRisk }

func (p *IPRiskProvider) Execute(ctx context.Context, snap Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if snap.IPAddress == "" {
		return newResult(55, []string{"no originating IP recorded"},
			rawPayload("sim-ip", nil)), nil
	}

	ip := net.ParseIP(snap.IPAddress)
	if ip == nil {
		return newResult(30, []string{"unparseable IP address: " + snap.IPAddress},
			rawPayload("sim-ip", nil)), nil
	}
	if ip.IsPrivate() || ip.IsLoopback() {
		return newResult(45, []string{"request originated from a non-routable address"},
			rawPayload("sim-ip", map[string]interface{}{"ip": snap.IPAddress})), nil
	}

	return newResult(91, []string{"IP has no proxy or abuse history"},
		rawPayload("sim-ip", map[string]interface{}{"ip": snap.IPAddress})), nil
}
