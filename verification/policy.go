// Package verification derives the capability set of a user from the
// verification flags reported by the backend.
//
// Two policies exist and neither is implied: the integrator selects one by name.
package verification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pilab-dev/storefront/domain"
	sferrors "github.com/pilab-dev/storefront/errors"
)

// Policy names.
const (
	PolicyOrganizationEmail = "org-email"
	PolicyThreeFactor       = "three-factor"
)

// Policy maps backend flags to a VerificationStatus. Derive must be pure.
type Policy interface {
	Name() string
	Derive(flags domain.VerificationFlags) domain.VerificationStatus
}

// OrganizationEmailPolicy treats any positive verification signal, including a
// verified organization email, as full verification. Every capability collapses
// to that single boolean.
type OrganizationEmailPolicy struct{}

// Name implements Policy.
func (OrganizationEmailPolicy) Name() string { return PolicyOrganizationEmail }

// Derive implements Policy.
func (OrganizationEmailPolicy) Derive(flags domain.VerificationFlags) domain.VerificationStatus {
	verified := flags.IsVerified ||
		flags.VerificationStatus == domain.StateVerified ||
		flags.BackendVerificationStatus == domain.StateVerified ||
		flags.IsOrganizationEmailVerified

	status := domain.VerificationStatus{
		IsFullyVerified:             verified,
		IsIdentityVerified:          verified,
		IsOrganizationEmailVerified: verified,
		CanBuy:                      verified,
		CanSell:                     verified,
		CanList:                     verified,
		CanContact:                  verified,
		CurrentStep:                 domain.StepComplete,
		PendingActions:              []domain.PendingAction{},
	}
	if !verified {
		status.CurrentStep = domain.StepOrganization
		status.PendingActions = []domain.PendingAction{domain.ActionVerifyOrganizationEmail}
	}
	return status
}

// ThreeFactorPolicy requires identity, passport and address verification.
// A verified organization email only unlocks contacting other users.
type ThreeFactorPolicy struct{}

// Name implements Policy.
func (ThreeFactorPolicy) Name() string { return PolicyThreeFactor }

// Derive implements Policy.
func (ThreeFactorPolicy) Derive(flags domain.VerificationFlags) domain.VerificationStatus {
	identity := flags.VerificationStatus == domain.StateVerified
	passport := flags.PassportVerificationStatus == domain.StateVerified
	address := flags.AddressVerificationStatus == domain.StateVerified
	full := identity && passport && address
	orgEmail := flags.IsOrganizationEmailVerified

	pending := []domain.PendingAction{}
	if !orgEmail {
		pending = append(pending, domain.ActionVerifyOrganizationEmail)
	}
	if !identity {
		pending = append(pending, domain.ActionVerifyIdentity)
	}
	if !passport {
		pending = append(pending, domain.ActionVerifyPassport)
	}
	if !address {
		pending = append(pending, domain.ActionVerifyAddress)
	}

	step := domain.StepComplete
	switch {
	case !orgEmail:
		step = domain.StepOrganization
	case !full:
		step = domain.StepIdentity
	}

	return domain.VerificationStatus{
		IsFullyVerified:             full,
		IsIdentityVerified:          identity,
		IsOrganizationEmailVerified: orgEmail,
		CanBuy:                      full,
		CanSell:                     full,
		CanList:                     full,
		CanContact:                  orgEmail || full,
		CurrentStep:                 step,
		PendingActions:              pending,
	}
}

var policies = map[string]Policy{
	PolicyOrganizationEmail: OrganizationEmailPolicy{},
	PolicyThreeFactor:       ThreeFactorPolicy{},
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (Policy, error) {
	p, ok := policies[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: verification policy %q (known: %s)",
			sferrors.ErrUnknownPolicy, name, strings.Join(PolicyNames(), ", "))
	}
	return p, nil
}

// PolicyNames lists the registered policy names in sorted order.
func PolicyNames() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
