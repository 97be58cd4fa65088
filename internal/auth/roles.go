package auth

import "fmt"

// Role is the access level carried by a principal
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleUser            Role = "user"
	RoleUnauthenticated Role = "unauthenticated"
)

// ParseRole accepts the roles that can be assigned to a user.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleUser:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
