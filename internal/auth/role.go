package auth

import "fmt"

// Role is the authorization level carried in a token.
type Role string

const (
	// RoleOperator may read state and change identity mappings.
	RoleOperator Role = "operator"
	// RoleViewer may only read.
	RoleViewer Role = "viewer"
)

// ParseRole validates s as a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleOperator, RoleViewer:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q (want %q or %q)", s, RoleOperator, RoleViewer)
	}
}

// CanWrite reports whether r may call mutating endpoints.
func (r Role) CanWrite() bool {
	return r == RoleOperator
}
