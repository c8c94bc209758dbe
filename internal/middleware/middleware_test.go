package middleware

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/courier-hub/courier_admin/internal/gate"
	"github.com/courier-hub/courier_admin/internal/identity"
	"github.com/courier-hub/courier_admin/internal/logging"
	"github.com/courier-hub/courier_admin/internal/security"
	"github.com/courier-hub/courier_admin/internal/session"
)

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	sealer, err := session.NewRandomSealer()
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	return session.NewManager(session.NewMemoryStore(), sealer, time.Hour, logging.Discard())
}

func TestRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Post("/login", RateLimit(cache, "login", 2, LoginKey, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	send := func(username string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"username":"`+username+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send("Ada"); got != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, got)
		}
	}
	if got := send("ada"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
	if got := send("grace"); got != fiber.StatusOK {
		t.Fatalf("other users must not be limited, got %d", got)
	}
	mr.FastForward(time.Minute + time.Second)
	if got := send("ada"); got != fiber.StatusOK {
		t.Fatalf("window did not reset, got %d", got)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	app := fiber.New()
	app.Post("/x", RateLimit(nil, "verify", 1, SessionKey, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	for i := 0; i < 3; i++ {
		resp, _ := app.Test(httptest.NewRequest(fiber.MethodPost, "/x", nil))
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("disabled limiter rejected request")
		}
	}
}

func TestSessionMiddleware(t *testing.T) {
	m := newManager(t)
	sess, err := m.Open(context.Background(), identity.Principal{
		User:  identity.User{ID: "u1", Username: "ada", Role: identity.RoleCourier},
		Token: "tok",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(Session(m, "courier_session", logging.Discard()))
	app.Get("/who", RequireSession(), func(c *fiber.Ctx) error {
		s, _ := CurrentSession(c)
		return c.SendString(s.User.Username)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/who", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/who", nil)
	req.Header.Set(SessionHeader, sess.ID)
	resp, _ = app.Test(req)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("header session rejected: %d", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/who", nil)
	req.Header.Set(fiber.HeaderCookie, "courier_session="+sess.ID)
	resp, _ = app.Test(req)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("cookie session rejected: %d", resp.StatusCode)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/who", nil)
	req.Header.Set(SessionHeader, "missing")
	resp, _ = app.Test(req)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("unknown session accepted: %d", resp.StatusCode)
	}
}

func TestRequireDashboard(t *testing.T) {
	courier := session.Session{ID: "s1", User: identity.User{ID: "u1", Role: identity.RoleCourier}}
	verified := true
	resolve := func(_ *fiber.Ctx, sess session.Session) gate.State {
		return gate.State{
			Authenticated: true,
			Verified:      verified,
			StatusKnown:   true,
			Status:        security.Status{PINEnabled: true},
			Role:          sess.User.Role,
		}
	}

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if c.Get(SessionHeader) != "" {
			SetCurrentSession(c, courier)
		}
		return c.Next()
	})
	app.Get("/courier", RequireDashboard(resolve, identity.RoleCourier), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/company", RequireDashboard(resolve, identity.RoleCompanyAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	call := func(path string, withSession bool) (int, gate.Decision) {
		req := httptest.NewRequest(fiber.MethodGet, path, nil)
		if withSession {
			req.Header.Set(SessionHeader, "s1")
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		var d gate.Decision
		_ = json.NewDecoder(resp.Body).Decode(&d)
		return resp.StatusCode, d
	}

	if code, d := call("/courier", false); code != fiber.StatusUnauthorized || d.Gate != gate.GateLogin {
		t.Fatalf("anonymous: %d %+v", code, d)
	}
	if code, _ := call("/courier", true); code != fiber.StatusOK {
		t.Fatalf("own dashboard refused: %d", code)
	}
	if code, d := call("/company", true); code != fiber.StatusForbidden || d.Path != "/dashboard/courier" {
		t.Fatalf("foreign dashboard: %d %+v", code, d)
	}
	verified = false
	if code, d := call("/courier", true); code != fiber.StatusForbidden || d.Gate != gate.GateVerify {
		t.Fatalf("unverified: %d %+v", code, d)
	}
}

func TestRequireSetupAccess(t *testing.T) {
	courier := session.Session{ID: "s1", User: identity.User{ID: "u1", Role: identity.RoleCourier}}
	state := gate.State{Authenticated: true, Role: identity.RoleCourier, StatusKnown: true}
	resolve := func(*fiber.Ctx, session.Session) gate.State { return state }

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if c.Get(SessionHeader) != "" {
			SetCurrentSession(c, courier)
		}
		return c.Next()
	})
	app.Post("/setup", RequireSetupAccess(resolve), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	call := func(withSession bool) int {
		req := httptest.NewRequest(fiber.MethodPost, "/setup", nil)
		if withSession {
			req.Header.Set(SessionHeader, "s1")
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	if code := call(false); code != fiber.StatusUnauthorized {
		t.Fatalf("anonymous: %d", code)
	}
	if code := call(true); code != fiber.StatusCreated {
		t.Fatalf("first enrollment refused: %d", code)
	}
	state.Status = security.Status{PINEnabled: true}
	if code := call(true); code != fiber.StatusConflict {
		t.Fatalf("unverified session with a factor reached setup: %d", code)
	}
	state.Verified = true
	if code := call(true); code != fiber.StatusCreated {
		t.Fatalf("verified session refused: %d", code)
	}
	state = gate.State{Authenticated: true, Role: identity.RoleCourier}
	if code := call(true); code != fiber.StatusBadGateway {
		t.Fatalf("unknown status: %d", code)
	}
	state = gate.State{}
	if code := call(true); code != fiber.StatusUnauthorized {
		t.Fatalf("expired token: %d", code)
	}
}
