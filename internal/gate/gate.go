// Package gate decides which screen a dashboard session may see. Role
// dashboards are only reachable after login, with at least one factor
// enabled and a successful verification.
package gate

import (
	"github.com/courier-hub/courier_admin/internal/identity"
	"github.com/courier-hub/courier_admin/internal/security"
)

// Gate names a destination.
type Gate string

const (
	GateLogin     Gate = "login"
	GateSetup     Gate = "setup"
	GateVerify    Gate = "verify"
	GateDashboard Gate = "dashboard"
)

const (
	PathLogin  = "/login"
	PathSetup  = "/security/setup"
	PathVerify = "/security/verify"
)

// State is what is known about a session when a route is requested.
type State struct {
	Authenticated bool
	Verified      bool
	// StatusKnown is false when the status read failed.
	StatusKnown bool
	Status      security.Status
	Role        identity.Role
}

// Decision is where the session must go.
type Decision struct {
	Gate Gate   `json:"gate"`
	Path string `json:"path"`
}

// Decide routes s. An unknown status is treated as "nothing enabled", so a
// failed read never unlocks a dashboard.
func Decide(s State) Decision {
	if !s.Authenticated || !s.Role.Valid() {
		return Decision{Gate: GateLogin, Path: PathLogin}
	}
	if !s.StatusKnown || !s.Status.Any() {
		return Decision{Gate: GateSetup, Path: PathSetup}
	}
	if !s.Verified {
		return Decision{Gate: GateVerify, Path: PathVerify}
	}
	return Decision{Gate: GateDashboard, Path: s.Role.DashboardPath()}
}

// Allows reports whether s may open the dashboard owned by role.
func Allows(s State, role identity.Role) bool {
	d := Decide(s)
	return d.Gate == GateDashboard && s.Role == role
}

// AllowsSetup reports whether s may enroll factors. Only a session with
// nothing enabled yet, or one that already passed verification, may do so;
// anyone else must prove an existing factor first.
func AllowsSetup(s State) bool {
	if !s.Authenticated || !s.Role.Valid() {
		return false
	}
	if s.Verified {
		return true
	}
	return s.StatusKnown && !s.Status.Any()
}
