package domain

import "time"

// User is the canonical client-side record of the logged in account.
// It is what gets persisted inside a session snapshot.
type User struct {
	ID                  string   `json:"id"`
	Email               string   `json:"email"`
	FirstName           string   `json:"firstName,omitempty"`
	LastName            string   `json:"lastName,omitempty"`
	Name                string   `json:"name,omitempty"`
	AvatarURL           string   `json:"avatarUrl,omitempty"`
	Organization        string   `json:"organization,omitempty"`
	OrganizationalEmail string   `json:"organizationalEmail,omitempty"`
	Position            string   `json:"position,omitempty"`
	Location            string   `json:"location,omitempty"`
	Bio                 string   `json:"bio,omitempty"`
	PhoneNumber         string   `json:"phoneNumber,omitempty"`
	Role                Role     `json:"role"`
	Roles               []string `json:"roles,omitempty"`

	// Backend-reported verification flags. Capabilities are derived from these.
	IsVerified                  bool              `json:"isVerified"`
	IsOrganizationEmailVerified bool              `json:"isOrganizationEmailVerified"`
	VerificationStatus          VerificationState `json:"verificationStatus,omitempty"`
	BackendVerificationStatus   VerificationState `json:"backendVerificationStatus,omitempty"`
	PassportVerificationStatus  VerificationState `json:"passportVerificationStatus,omitempty"`
	AddressVerificationStatus   VerificationState `json:"addressVerificationStatus,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// HasIdentity reports whether the record carries a usable user identity.
func (u *User) HasIdentity() bool {
	return u != nil && (u.ID != "" || u.Email != "")
}

// DisplayName returns the best available human readable name.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	if full := joinName(u.FirstName, u.LastName); full != "" {
		return full
	}
	return u.Email
}

// Flags extracts the raw verification flags of the user.
func (u *User) Flags() VerificationFlags {
	if u == nil {
		return VerificationFlags{}
	}
	return VerificationFlags{
		IsVerified:                  u.IsVerified,
		IsOrganizationEmailVerified: u.IsOrganizationEmailVerified,
		VerificationStatus:          u.VerificationStatus,
		BackendVerificationStatus:   u.BackendVerificationStatus,
		PassportVerificationStatus:  u.PassportVerificationStatus,
		AddressVerificationStatus:   u.AddressVerificationStatus,
	}
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Roles != nil {
		c.Roles = append([]string(nil), u.Roles...)
	}
	return &c
}

// UserPatch is a partial update of the cached user. Nil fields are left untouched.
type UserPatch struct {
	FirstName           *string `json:"firstName,omitempty"`
	LastName            *string `json:"lastName,omitempty"`
	Name                *string `json:"name,omitempty"`
	AvatarURL           *string `json:"avatarUrl,omitempty"`
	Organization        *string `json:"organization,omitempty"`
	OrganizationalEmail *string `json:"organizationalEmail,omitempty"`
	Position            *string `json:"position,omitempty"`
	Location            *string `json:"location,omitempty"`
	Bio                 *string `json:"bio,omitempty"`
	PhoneNumber         *string `json:"phoneNumber,omitempty"`

	IsVerified                  *bool              `json:"isVerified,omitempty"`
	IsOrganizationEmailVerified *bool              `json:"isOrganizationEmailVerified,omitempty"`
	VerificationStatus          *VerificationState `json:"verificationStatus,omitempty"`
	PassportVerificationStatus  *VerificationState `json:"passportVerificationStatus,omitempty"`
	AddressVerificationStatus   *VerificationState `json:"addressVerificationStatus,omitempty"`
}

// Apply merges the patch into a copy of u and returns it.
func (p UserPatch) Apply(u *User) *User {
	out := u.Clone()
	if out == nil {
		out = &User{}
	}
	setString(&out.FirstName, p.FirstName)
	setString(&out.LastName, p.LastName)
	setString(&out.Name, p.Name)
	setString(&out.AvatarURL, p.AvatarURL)
	setString(&out.Organization, p.Organization)
	setString(&out.OrganizationalEmail, p.OrganizationalEmail)
	setString(&out.Position, p.Position)
	setString(&out.Location, p.Location)
	setString(&out.Bio, p.Bio)
	setString(&out.PhoneNumber, p.PhoneNumber)
	if p.IsVerified != nil {
		out.IsVerified = *p.IsVerified
	}
	if p.IsOrganizationEmailVerified != nil {
		out.IsOrganizationEmailVerified = *p.IsOrganizationEmailVerified
	}
	if p.VerificationStatus != nil {
		out.VerificationStatus = *p.VerificationStatus
	}
	if p.PassportVerificationStatus != nil {
		out.PassportVerificationStatus = *p.PassportVerificationStatus
	}
	if p.AddressVerificationStatus != nil {
		out.AddressVerificationStatus = *p.AddressVerificationStatus
	}
	if (p.FirstName != nil || p.LastName != nil) && p.Name == nil {
		out.Name = joinName(out.FirstName, out.LastName)
	}
	return out
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
