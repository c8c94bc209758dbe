package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/courier-hub/courier_admin/internal/session"
)

const (
	// SessionHeader carries the session id for clients that do not use cookies.
	SessionHeader = "X-Session-ID"
	sessionLocal  = "session"
)

// Session loads the caller's session from the cookie or SessionHeader. It
// never rejects; use RequireSession on routes that need one.
func Session(m *session.Manager, cookieName string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Cookies(cookieName)
		if id == "" {
			id = c.Get(SessionHeader)
		}
		if id == "" {
			return c.Next()
		}

		sess, err := m.Get(c.UserContext(), id)
		switch {
		case err == nil:
			c.Locals(sessionLocal, sess)
		case errors.Is(err, session.ErrNotFound):
		case errors.Is(err, session.ErrCorrupt):
			logger.Warn("dropping corrupt session", slog.String("session_id", id), slog.Any("error", err))
		default:
			logger.Error("session lookup failed", slog.String("session_id", id), slog.Any("error", err))
			return fiber.NewError(http.StatusServiceUnavailable, "session store unavailable")
		}
		return c.Next()
	}
}

// RequireSession rejects requests without a live session.
func RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := CurrentSession(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, "login required")
		}
		return c.Next()
	}
}

// CurrentSession returns the session loaded by Session.
func CurrentSession(c *fiber.Ctx) (session.Session, bool) {
	sess, ok := c.Locals(sessionLocal).(session.Session)
	return sess, ok
}

// SetCurrentSession replaces the session seen by later handlers.
func SetCurrentSession(c *fiber.Ctx, sess session.Session) {
	c.Locals(sessionLocal, sess)
}
