package auth

import (
	"net/url"
	"strings"
	"time"

	"github.com/pilab-dev/storefront/apiclient"
	"github.com/pilab-dev/storefront/domain"
)

// userFromDetails builds the canonical user from the user-details response.
// Fields the response lacks are taken from prev when given.
func (m *Manager) userFromDetails(d *apiclient.UserDetails, prev *domain.User) *domain.User {
	u := &domain.User{
		ID:                          d.ID,
		Email:                       d.LoggingEmail,
		FirstName:                   d.FirstName,
		LastName:                    d.LastName,
		AvatarURL:                   m.resolveAvatar(d.ProfileImageURL),
		Organization:                d.Organization,
		OrganizationalEmail:         d.OrganizationalEmail,
		Position:                    d.Position,
		Location:                    d.Location,
		Bio:                         d.AboutMe,
		PhoneNumber:                 d.PhoneNumber,
		Role:                        domain.HighestRole(d.Roles),
		Roles:                       append([]string(nil), d.Roles...),
		IsVerified:                  d.IsVerified,
		IsOrganizationEmailVerified: d.IsOrganizationEmailVerified,
		VerificationStatus:          domain.ParseVerificationState(d.VerificationStatus),
		BackendVerificationStatus:   domain.ParseVerificationState(d.VerificationStatus),
		PassportVerificationStatus:  domain.ParseVerificationState(d.PassportVerificationStatus),
		AddressVerificationStatus:   domain.ParseVerificationState(d.AddressVerificationStatus),
		CreatedAt:                   time.Now().UTC(),
	}
	u.Name = strings.TrimSpace(u.FirstName + " " + u.LastName)

	if prev != nil {
		if u.Email == "" {
			u.Email = prev.Email
		}
		if u.ID == "" {
			u.ID = prev.ID
		}
		if len(d.Roles) == 0 {
			u.Role = prev.Role
		}
		if u.AvatarURL == "" {
			u.AvatarURL = prev.AvatarURL
		}
		if !prev.CreatedAt.IsZero() {
			u.CreatedAt = prev.CreatedAt
		}
	}
	if u.ID == "" {
		u.ID = u.Email
	}
	return u
}

// minimalUserFromLogin builds the fallback user when user details can not be
// fetched right after login. Verification flags stay at their unverified defaults.
func minimalUserFromLogin(resp *apiclient.LoginResponse) *domain.User {
	return &domain.User{
		ID:        resp.Email,
		Email:     resp.Email,
		Role:      domain.ParseRole(resp.Role),
		CreatedAt: time.Now().UTC(),
	}
}

func (m *Manager) minimalUserFromOAuth(resp *apiclient.OAuthExchangeResponse) *domain.User {
	u := &domain.User{
		ID:        resp.Email,
		Email:     resp.Email,
		FirstName: resp.FirstName,
		LastName:  resp.LastName,
		AvatarURL: m.resolveAvatar(resp.ProfileImageURL),
		Role:      domain.RoleUser,
		CreatedAt: time.Now().UTC(),
	}
	u.Name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	return u
}

// resolveAvatar turns a relative avatar path into an absolute URL on the API origin.
func (m *Manager) resolveAvatar(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || m.assetBase == nil {
		return raw
	}

	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}

	origin := &url.URL{Scheme: m.assetBase.Scheme, Host: m.assetBase.Host, Path: "/"}
	return origin.ResolveReference(ref).String()
}
