package verification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pilab-dev/storefront/domain"
	sferrors "github.com/pilab-dev/storefront/errors"
)

// Fallback names.
const (
	FallbackOptimistic = "optimistic"
	FallbackStrict     = "strict"
)

// Fallback decides what happens when the user record can not be re-fetched
// after a successful OTP verification.
//
// Resolve receives the cached user and the re-fetch error. It returns the user
// to keep, or an error to surface to the caller (in which case the previous
// state is kept).
type Fallback interface {
	Name() string
	Resolve(user *domain.User, fetchErr error) (*domain.User, error)
}

// OptimisticFallback marks the user VERIFIED with every capability, so the user
// is not blocked by a failing status endpoint.
type OptimisticFallback struct{}

// Name implements Fallback.
func (OptimisticFallback) Name() string { return FallbackOptimistic }

// Resolve implements Fallback.
func (OptimisticFallback) Resolve(user *domain.User, _ error) (*domain.User, error) {
	out := user.Clone()
	if out == nil {
		out = &domain.User{}
	}
	out.IsVerified = true
	out.IsOrganizationEmailVerified = true
	out.VerificationStatus = domain.StateVerified
	out.BackendVerificationStatus = domain.StateVerified
	out.PassportVerificationStatus = domain.StateVerified
	out.AddressVerificationStatus = domain.StateVerified
	return out, nil
}

// StrictFallback surfaces the re-fetch error and grants nothing.
type StrictFallback struct{}

// Name implements Fallback.
func (StrictFallback) Name() string { return FallbackStrict }

// Resolve implements Fallback.
func (StrictFallback) Resolve(_ *domain.User, fetchErr error) (*domain.User, error) {
	return nil, fmt.Errorf("failed to confirm verification status: %w", fetchErr)
}

var fallbacks = map[string]Fallback{
	FallbackOptimistic: OptimisticFallback{},
	FallbackStrict:     StrictFallback{},
}

// FallbackByName resolves a configured fallback name.
func FallbackByName(name string) (Fallback, error) {
	f, ok := fallbacks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		names := make([]string, 0, len(fallbacks))
		for n := range fallbacks {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: OTP fallback %q (known: %s)",
			sferrors.ErrUnknownPolicy, name, strings.Join(names, ", "))
	}
	return f, nil
}
