package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/courier-hub/courier_admin/internal/gate"
	"github.com/courier-hub/courier_admin/internal/identity"
	"github.com/courier-hub/courier_admin/internal/middleware"
	"github.com/courier-hub/courier_admin/internal/security"
	"github.com/courier-hub/courier_admin/internal/session"
)

// RouteFunc decides where a session should go next.
type RouteFunc func(c *fiber.Ctx, sess session.Session) gate.Decision

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// Handler exposes auth endpoints for login/logout/me.
type Handler struct {
	svc    *Service
	route  RouteFunc
	cookie CookieOptions
}

func NewHandler(svc *Service, route RouteFunc, cookie CookieOptions) *Handler {
	return &Handler{svc: svc, route: route, cookie: cookie}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionID string        `json:"session_id"`
	User      identity.User `json:"user"`
	Gate      gate.Decision `json:"gate"`
}

// Login validates credentials with the backend and opens a session.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.Login(c.UserContext(), identity.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrMissingCredentials):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, identity.ErrInvalidUser), errors.Is(err, identity.ErrUnknownRole):
			return fiber.NewError(http.StatusForbidden, "account cannot use the dashboard")
		case security.KindOf(err) == security.KindRejected, security.KindOf(err) == security.KindAuth:
			return fiber.NewError(http.StatusUnauthorized, "invalid username or password")
		case security.KindOf(err) == security.KindTransport:
			return fiber.NewError(http.StatusBadGateway, security.Message(err))
		default:
			return err
		}
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    sess.ID,
		Path:     "/",
		Expires:  time.Now().Add(h.cookie.TTL),
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	middleware.SetCurrentSession(c, sess)
	return c.Status(http.StatusOK).JSON(loginResponse{SessionID: sess.ID, User: sess.User, Gate: h.route(c, sess)})
}

// Logout ends the current session. It succeeds without one.
func (h *Handler) Logout(c *fiber.Ctx) error {
	if sess, ok := middleware.CurrentSession(c); ok {
		if err := h.svc.Logout(c.UserContext(), sess.ID); err != nil {
			return err
		}
	}
	c.ClearCookie(h.cookie.Name)
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

// Me returns the session user.
func (h *Handler) Me(c *fiber.Ctx) error {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "login required")
	}
	return c.JSON(fiber.Map{
		"user":            sess.User,
		"verified":        sess.Verified,
		"verified_factor": sess.VerifiedFactor,
		"created_at":      sess.CreatedAt,
	})
}
