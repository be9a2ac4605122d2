package domain

import "context"

// Responsibility classifies how much of a control a platform provider
// satisfies on the customer's behalf.
type Responsibility string

const (
	ResponsibilityInherited     Responsibility = "inherited"
	ResponsibilityShared        Responsibility = "shared"
	ResponsibilityCustomer      Responsibility = "customer"
	ResponsibilityNotApplicable Responsibility = "not_applicable"
)

// InheritanceRecord is the lookup result fed into prompt construction and
// the provider_inheritance confidence factor.
type InheritanceRecord struct {
	ControlID      string
	ProviderName   string
	Responsibility Responsibility
	Narrative      string
}

// InheritanceLookup resolves provider inheritance for a control. A lookup
// failure is non-fatal: analysis proceeds with the factor excluded.
type InheritanceLookup interface {
	GetInheritance(ctx context.Context, controlID, providerName string) (*InheritanceRecord, error)
}

// FactorValueForResponsibility maps a responsibility class to the
// provider_inheritance confidence factor. Not-applicable excludes the factor
// from the weighted sum entirely.
func FactorValueForResponsibility(r Responsibility) FactorValue {
	switch r {
	case ResponsibilityInherited:
		return Applies(1.0)
	case ResponsibilityShared:
		return Applies(0.7)
	case ResponsibilityCustomer:
		return Applies(0.5)
	default:
		return NotApplicable()
	}
}
