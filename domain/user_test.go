package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"ROLE_ADMIN": RoleAdmin,
		"Admin":      RoleAdmin,
		" moderator": RoleModerator,
		"user":       RoleUser,
		"":           RoleUser,
		"superhero":  RoleUser,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseRole(in), in)
	}
}

func TestHighestRole(t *testing.T) {
	assert.Equal(t, RoleUser, HighestRole(nil))
	assert.Equal(t, RoleModerator, HighestRole([]string{"ROLE_USER", "ROLE_MODERATOR"}))
	assert.Equal(t, RoleAdmin, HighestRole([]string{"ROLE_MODERATOR", "ROLE_ADMIN", "ROLE_USER"}))
}

func TestParseVerificationState(t *testing.T) {
	assert.Equal(t, StateVerified, ParseVerificationState(" verified "))
	assert.Equal(t, StatePending, ParseVerificationState("PENDING"))
	assert.Equal(t, StateRejected, ParseVerificationState("Rejected"))
	assert.Equal(t, VerificationState(""), ParseVerificationState("unknown"))
}

func TestUserPatch_Apply(t *testing.T) {
	orig := &User{ID: "1", Email: "a@b.com", FirstName: "Asha", LastName: "Mushi", Name: "Asha Mushi", Roles: []string{"user"}}

	out := UserPatch{
		LastName:   ptr("Kimaro"),
		Position:   ptr("Buyer"),
		IsVerified: ptr(true),
	}.Apply(orig)

	require.NotSame(t, orig, out)
	assert.Equal(t, "Kimaro", out.LastName)
	assert.Equal(t, "Asha Kimaro", out.Name)
	assert.Equal(t, "Buyer", out.Position)
	assert.True(t, out.IsVerified)
	assert.Equal(t, "a@b.com", out.Email)

	assert.Equal(t, "Mushi", orig.LastName, "original must not change")
	assert.False(t, orig.IsVerified)

	out.Roles[0] = "admin"
	assert.Equal(t, "user", orig.Roles[0])
}

func TestUserPatch_ExplicitNameWins(t *testing.T) {
	out := UserPatch{FirstName: ptr("Neema"), Name: ptr("N. M.")}.Apply(&User{LastName: "Mushi"})
	assert.Equal(t, "N. M.", out.Name)
}

func TestUser_DisplayNameAndFlags(t *testing.T) {
	var nilUser *User
	assert.Empty(t, nilUser.DisplayName())
	assert.False(t, nilUser.HasIdentity())
	assert.Equal(t, VerificationFlags{}, nilUser.Flags())

	u := &User{Email: "a@b.com"}
	assert.Equal(t, "a@b.com", u.DisplayName())
	u.FirstName = "Asha"
	assert.Equal(t, "Asha", u.DisplayName())
	assert.True(t, u.HasIdentity())

	u.PassportVerificationStatus = StatePending
	assert.Equal(t, StatePending, u.Flags().PassportVerificationStatus)
}
