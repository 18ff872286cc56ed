package checks

import "fmt"

// Registry maps check types to their providers.
type Registry struct {
	providers map[CheckType]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[CheckType]Provider)}
}

// Register adds a provider. Registering a second provider for the same type
// replaces the first.
func (r *Registry) Register(p Provider) {
	r.providers[p.Type()] = p
}

// Provider returns the provider for a check type.
func (r *Registry) Provider(t CheckType) (Provider, error) {
	if !ValidCheckType(t) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCheckType, t)
	}
	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, t)
	}
	return p, nil
}

// NewSimulatedRegistry returns a registry with deterministic simulated
// providers for every check type. Used in development mode and tests.
func NewSimulatedRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewIdentityProvider())
	r.Register(NewCompanyRegistryProvider())
	r.Register(NewBeneficialOwnerProvider())
	r.Register(NewDirectorProvider())
	r.Register(NewSanctionsProvider())
	r.Register(NewDeviceProvider())
	r.Register(NewIPRiskProvider())
	return r
}
