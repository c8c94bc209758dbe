package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/courier-hub/courier_admin/internal/logging"
	"github.com/courier-hub/courier_admin/internal/session"
)

func setupTestApp(t *testing.T, status int) (*fiber.App, *int32) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	var hits int32
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if id := c.Get(SessionHeader); id != "" {
			SetCurrentSession(c, session.Session{ID: id})
		}
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/sms/send", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&hits, 1)
		return c.Status(status).JSON(fiber.Map{"sent": n})
	})
	return app, &hits
}

func post(t *testing.T, app *fiber.App, sessionID, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/sms/send", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyHeaderOptional(t *testing.T) {
	app, hits := setupTestApp(t, fiber.StatusOK)
	post(t, app, "s1", "")
	post(t, app, "s1", "")
	if *hits != 2 {
		t.Fatalf("requests without a key must always run, got %d", *hits)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, hits := setupTestApp(t, fiber.StatusOK)

	status, first := post(t, app, "s1", "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, status)
	}
	status, second := post(t, app, "s1", "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected cached status %d got %d", fiber.StatusOK, status)
	}
	if first != second {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if *hits != 1 {
		t.Fatalf("handler ran %d times", *hits)
	}
}

func TestIdempotencyKeysAreScopedPerSession(t *testing.T) {
	app, hits := setupTestApp(t, fiber.StatusOK)
	post(t, app, "s1", "same-key")
	post(t, app, "s2", "same-key")
	if *hits != 2 {
		t.Fatalf("sessions must not share idempotency keys, handler ran %d times", *hits)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	app, hits := setupTestApp(t, fiber.StatusBadGateway)
	post(t, app, "s1", "retry-me")
	post(t, app, "s1", "retry-me")
	if *hits != 2 {
		t.Fatalf("server errors must be retryable, handler ran %d times", *hits)
	}
}
