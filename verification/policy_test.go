package verification

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/storefront/domain"
	sferrors "github.com/pilab-dev/storefront/errors"
)

func TestOrganizationEmailPolicy(t *testing.T) {
	tests := []struct {
		name     string
		flags    domain.VerificationFlags
		verified bool
	}{
		{"nothing", domain.VerificationFlags{}, false},
		{"pending identity", domain.VerificationFlags{VerificationStatus: domain.StatePending}, false},
		{"explicit flag", domain.VerificationFlags{IsVerified: true}, true},
		{"verification status", domain.VerificationFlags{VerificationStatus: domain.StateVerified}, true},
		{"backend status", domain.VerificationFlags{BackendVerificationStatus: domain.StateVerified}, true},
		{"organization email", domain.VerificationFlags{IsOrganizationEmailVerified: true}, true},
		{"passport alone is not enough", domain.VerificationFlags{PassportVerificationStatus: domain.StateVerified}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OrganizationEmailPolicy{}.Derive(tt.flags)

			for _, flag := range []bool{
				got.IsFullyVerified, got.IsIdentityVerified, got.IsOrganizationEmailVerified,
				got.CanBuy, got.CanSell, got.CanList, got.CanContact,
			} {
				assert.Equal(t, tt.verified, flag)
			}
			require.NotNil(t, got.PendingActions)
			if tt.verified {
				assert.Equal(t, domain.StepComplete, got.CurrentStep)
				assert.Empty(t, got.PendingActions)
			} else {
				assert.Equal(t, domain.StepOrganization, got.CurrentStep)
				assert.Equal(t, []domain.PendingAction{domain.ActionVerifyOrganizationEmail}, got.PendingActions)
			}
		})
	}
}

func TestThreeFactorPolicy(t *testing.T) {
	allVerified := domain.VerificationFlags{
		IsOrganizationEmailVerified: true,
		VerificationStatus:          domain.StateVerified,
		PassportVerificationStatus:  domain.StateVerified,
		AddressVerificationStatus:   domain.StateVerified,
	}

	t.Run("fully verified", func(t *testing.T) {
		got := ThreeFactorPolicy{}.Derive(allVerified)
		assert.Equal(t, domain.FullyVerifiedStatus(), got)
	})

	t.Run("organization email only", func(t *testing.T) {
		got := ThreeFactorPolicy{}.Derive(domain.VerificationFlags{IsOrganizationEmailVerified: true, IsVerified: true})
		assert.False(t, got.IsFullyVerified)
		assert.False(t, got.CanBuy)
		assert.True(t, got.CanContact)
		assert.Equal(t, domain.StepIdentity, got.CurrentStep)
		assert.Equal(t, []domain.PendingAction{
			domain.ActionVerifyIdentity, domain.ActionVerifyPassport, domain.ActionVerifyAddress,
		}, got.PendingActions)
	})

	t.Run("documents without organization email", func(t *testing.T) {
		flags := allVerified
		flags.IsOrganizationEmailVerified = false

		got := ThreeFactorPolicy{}.Derive(flags)
		assert.True(t, got.IsFullyVerified)
		assert.True(t, got.CanContact)
		assert.Equal(t, domain.StepOrganization, got.CurrentStep)
		assert.Equal(t, []domain.PendingAction{domain.ActionVerifyOrganizationEmail}, got.PendingActions)
	})

	t.Run("rejected address", func(t *testing.T) {
		flags := allVerified
		flags.AddressVerificationStatus = domain.StateRejected

		got := ThreeFactorPolicy{}.Derive(flags)
		assert.False(t, got.CanSell)
		assert.True(t, got.IsIdentityVerified)
		assert.Equal(t, []domain.PendingAction{domain.ActionVerifyAddress}, got.PendingActions)
	})
}

func TestDeriveIsPure(t *testing.T) {
	inputs := []domain.VerificationFlags{
		{},
		{IsVerified: true},
		{VerificationStatus: domain.StatePending, PassportVerificationStatus: domain.StateVerified},
		{IsOrganizationEmailVerified: true, AddressVerificationStatus: domain.StateRejected},
	}

	for _, p := range []Policy{OrganizationEmailPolicy{}, ThreeFactorPolicy{}} {
		for _, in := range inputs {
			first := p.Derive(in)
			second := p.Derive(in)
			assert.Equal(t, first, second, "policy %s", p.Name())
		}
	}
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("org-email")
	require.NoError(t, err)
	assert.Equal(t, PolicyOrganizationEmail, p.Name())

	p, err = PolicyByName(" Three-Factor ")
	require.NoError(t, err)
	assert.Equal(t, PolicyThreeFactor, p.Name())

	_, err = PolicyByName("")
	assert.True(t, errors.Is(err, sferrors.ErrUnknownPolicy))

	assert.Equal(t, []string{"org-email", "three-factor"}, PolicyNames())
}

func TestFallbacks(t *testing.T) {
	user := &domain.User{ID: "user-1", VerificationStatus: domain.StatePending}
	fetchErr := errors.New("status endpoint down")

	t.Run("optimistic", func(t *testing.T) {
		f, err := FallbackByName("optimistic")
		require.NoError(t, err)

		got, err := f.Resolve(user, fetchErr)
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.ID)
		assert.Equal(t, domain.StatePending, user.VerificationStatus, "input is not mutated")

		for _, p := range []Policy{OrganizationEmailPolicy{}, ThreeFactorPolicy{}} {
			assert.Equal(t, domain.FullyVerifiedStatus(), p.Derive(got.Flags()), "policy %s", p.Name())
		}
	})

	t.Run("strict", func(t *testing.T) {
		f, err := FallbackByName("STRICT")
		require.NoError(t, err)

		got, err := f.Resolve(user, fetchErr)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, fetchErr)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := FallbackByName("lenient")
		assert.ErrorIs(t, err, sferrors.ErrUnknownPolicy)
	})
}
