package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// KeyFunc picks the bucket a request counts against. An empty key skips
// limiting for that request.
type KeyFunc func(c *fiber.Ctx) string

// RateLimit allows maxPerMin requests per key per minute using a Redis
// counter. It is a no-op without Redis or with maxPerMin <= 0, and fails open
// on cache errors.
func RateLimit(cache *redis.Client, prefix string, maxPerMin int, keyFn KeyFunc, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil || maxPerMin <= 0 {
			return c.Next()
		}
		k := keyFn(c)
		if k == "" {
			return c.Next()
		}
		key := "rl:" + prefix + ":" + k
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("rate limit counter failed", slog.String("bucket", prefix), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(http.StatusTooManyRequests, "too many attempts, try again later")
		}
		return c.Next()
	}
}

// LoginKey buckets login attempts by username, falling back to the client IP.
func LoginKey(c *fiber.Ctx) string {
	var req struct {
		Username string `json:"username"`
	}
	_ = c.BodyParser(&req)
	if u := strings.ToLower(strings.TrimSpace(req.Username)); u != "" {
		return u
	}
	return c.IP()
}

// SessionKey buckets requests by session.
func SessionKey(c *fiber.Ctx) string {
	sess, ok := CurrentSession(c)
	if !ok {
		return ""
	}
	return sess.ID
}
