package domain

import "strings"

// Role is the storefront role of the logged in account.
type Role string

// Standard Roles
const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// ParseRole normalizes backend role names ("ROLE_ADMIN", "Admin", "admin") to a Role.
// Unknown or empty names map to RoleUser.
func ParseRole(name string) Role {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "role_")
	switch Role(n) {
	case RoleAdmin:
		return RoleAdmin
	case RoleModerator:
		return RoleModerator
	default:
		return RoleUser
	}
}

// HighestRole picks the most privileged role out of a backend roles list.
func HighestRole(names []string) Role {
	best := RoleUser
	for _, name := range names {
		switch ParseRole(name) {
		case RoleAdmin:
			return RoleAdmin
		case RoleModerator:
			best = RoleModerator
		}
	}
	return best
}
