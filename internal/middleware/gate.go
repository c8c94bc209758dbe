package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/courier-hub/courier_admin/internal/gate"
	"github.com/courier-hub/courier_admin/internal/identity"
	"github.com/courier-hub/courier_admin/internal/session"
)

// StateResolver builds the gate state of a session, reading the security
// status from the backend.
type StateResolver func(c *fiber.Ctx, sess session.Session) gate.State

// RequireDashboard lets a request through only when the session may open the
// dashboard of role. Otherwise it answers with the decision so the client
// knows where to go.
func RequireDashboard(resolve StateResolver, role identity.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, ok := CurrentSession(c)
		if !ok {
			d := gate.Decide(gate.State{})
			return c.Status(http.StatusUnauthorized).JSON(d)
		}
		state := resolve(c, sess)
		if gate.Allows(state, role) {
			return c.Next()
		}
		d := gate.Decide(state)
		return c.Status(http.StatusForbidden).JSON(d)
	}
}

// RequireSetupAccess guards factor enrollment. A session that still has to
// verify an existing factor gets 409 with its decision; when the status
// cannot be read the request fails with 502 rather than opening setup.
func RequireSetupAccess(resolve StateResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, ok := CurrentSession(c)
		if !ok {
			return c.Status(http.StatusUnauthorized).JSON(gate.Decide(gate.State{}))
		}
		state := resolve(c, sess)
		if gate.AllowsSetup(state) {
			return c.Next()
		}
		d := gate.Decide(state)
		switch {
		case d.Gate == gate.GateLogin:
			return c.Status(http.StatusUnauthorized).JSON(d)
		case !state.StatusKnown:
			return c.Status(http.StatusBadGateway).JSON(fiber.Map{
				"error": "service unavailable, please try again",
				"gate":  d,
			})
		default:
			return c.Status(http.StatusConflict).JSON(fiber.Map{
				"error": "verify an existing factor before changing security settings",
				"gate":  d,
			})
		}
	}
}
