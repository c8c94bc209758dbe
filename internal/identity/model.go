package identity

import (
	"errors"
	"fmt"
)

// Role is the dashboard a user is allowed into. The set is closed.
type Role int

const (
	roleUnknown Role = iota
	RoleSuperAdmin
	RoleCompanyAdmin
	RoleCourier
)

// ErrUnknownRole is returned for role strings outside the closed set.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole maps the backend's role string onto a Role.
func ParseRole(v string) (Role, error) {
	switch v {
	case "super_admin":
		return RoleSuperAdmin, nil
	case "company_admin":
		return RoleCompanyAdmin, nil
	case "courier":
		return RoleCourier, nil
	default:
		return roleUnknown, fmt.Errorf("%w: %q", ErrUnknownRole, v)
	}
}

func (r Role) String() string {
	switch r {
	case RoleSuperAdmin:
		return "super_admin"
	case RoleCompanyAdmin:
		return "company_admin"
	case RoleCourier:
		return "courier"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleCompanyAdmin, RoleCourier:
		return true
	default:
		return false
	}
}

// DashboardPath is the dashboard route owned by r.
func (r Role) DashboardPath() string {
	switch r {
	case RoleSuperAdmin:
		return "/dashboard/super-admin"
	case RoleCompanyAdmin:
		return "/dashboard/company"
	case RoleCourier:
		return "/dashboard/courier"
	default:
		return ""
	}
}

// MarshalText encodes r with its backend name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrUnknownRole
	}
	return []byte(r.String()), nil
}

// UnmarshalText rejects anything outside the closed set.
func (r *Role) UnmarshalText(b []byte) error {
	role, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// User is the authenticated dashboard user. Role does not change for the
// lifetime of a session.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Role        Role   `json:"role"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Credentials request structure.
type Credentials struct {
	Username string
	Password string
}

// Principal is a user together with the backend bearer token issued for them.
type Principal struct {
	User  User
	Token string
}
