package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/courier-hub/courier_admin/internal/gate"
	"github.com/courier-hub/courier_admin/internal/identity"
	"github.com/courier-hub/courier_admin/internal/middleware"
	"github.com/courier-hub/courier_admin/internal/security"
	"github.com/courier-hub/courier_admin/internal/securityapi"
	"github.com/courier-hub/courier_admin/internal/session"
)

const statusReadTimeout = 5 * time.Second

// stateResolver reads a fresh security status for every gate decision.
type stateResolver struct {
	backend  *securityapi.Client
	sessions *session.Manager
	logger   *slog.Logger
}

func (r *stateResolver) state(c *fiber.Ctx, sess session.Session) gate.State {
	st := gate.State{
		Authenticated: true,
		Verified:      sess.Verified,
		Role:          sess.User.Role,
	}
	token, err := r.sessions.Token(sess)
	if err != nil {
		r.logger.Warn("cannot open session token", slog.String("session_id", sess.ID), slog.Any("error", err))
		return gate.State{}
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), statusReadTimeout)
	defer cancel()
	status, err := r.backend.WithToken(token).Status(ctx)
	if errors.Is(err, security.ErrUnauthenticated) {
		r.logger.Info("backend token no longer accepted, routing to login", slog.String("session_id", sess.ID))
		return gate.State{}
	}
	if err != nil {
		r.logger.Warn("security status unavailable, routing to setup",
			slog.String("session_id", sess.ID),
			slog.Any("error", err),
		)
		return st
	}
	st.StatusKnown = true
	st.Status = status
	return st
}

func (r *stateResolver) route(c *fiber.Ctx, sess session.Session) gate.Decision {
	return gate.Decide(r.state(c, sess))
}

func (r *stateResolver) handleRoute(c *fiber.Ctx) error {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		return c.JSON(gate.Decide(gate.State{}))
	}
	return c.JSON(r.route(c, sess))
}

// RegisterDashboardRoutes wires the role dashboards behind the gate.
func RegisterDashboardRoutes(api fiber.Router, r *stateResolver) {
	api.Get("/dashboard", func(c *fiber.Ctx) error {
		sess, ok := middleware.CurrentSession(c)
		if !ok {
			return c.Status(http.StatusUnauthorized).JSON(gate.Decide(gate.State{}))
		}
		d := r.route(c, sess)
		if d.Gate != gate.GateDashboard {
			return c.Status(http.StatusForbidden).JSON(d)
		}
		return c.JSON(d)
	})

	dashboards := map[string]identity.Role{
		"/dashboard/super-admin": identity.RoleSuperAdmin,
		"/dashboard/company":     identity.RoleCompanyAdmin,
		"/dashboard/courier":     identity.RoleCourier,
	}
	for path, role := range dashboards {
		role := role
		api.Get(path, middleware.RequireDashboard(r.state, role), func(c *fiber.Ctx) error {
			sess, _ := middleware.CurrentSession(c)
			return c.JSON(fiber.Map{
				"dashboard": role.String(),
				"user":      sess.User,
			})
		})
	}
}
