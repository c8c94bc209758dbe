package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/courier-hub/courier_admin/internal/auth"
	"github.com/courier-hub/courier_admin/internal/config"
	"github.com/courier-hub/courier_admin/internal/identity"
	"github.com/courier-hub/courier_admin/internal/journal"
	"github.com/courier-hub/courier_admin/internal/logging"
	"github.com/courier-hub/courier_admin/internal/middleware"
	"github.com/courier-hub/courier_admin/internal/security"
	"github.com/courier-hub/courier_admin/internal/securityapi"
	"github.com/courier-hub/courier_admin/internal/session"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Backend *securityapi.Client
	// Flows is created from Cfg.FlowIdleTTL when nil.
	Flows  *security.Registry
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Backend == nil {
		return fmt.Errorf("backend client is required")
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	sealer, err := newSealer(d)
	if err != nil {
		return err
	}
	var store session.Store
	if d.Cache != nil {
		store = session.NewRedisStore(d.Cache)
	} else {
		store = session.NewMemoryStore()
	}
	var events journal.Repository
	if d.DB != nil {
		events = journal.NewPostgresRepository(d.DB)
	} else {
		events = journal.NewMemoryRepository()
	}
	flows := d.Flows
	if flows == nil {
		flows = security.NewRegistry(d.Cfg.FlowIdleTTL)
	}

	sessions := session.NewManager(store, sealer, d.Cfg.SessionTTL, d.Logger)
	recorder := journal.NewRecorder(events, d.Logger)
	identitySvc := identity.NewService(d.Backend)
	authSvc := auth.NewService(identitySvc, sessions, flows, d.Logger)
	resolver := &stateResolver{backend: d.Backend, sessions: sessions, logger: d.Logger}
	authHandler := auth.NewHandler(authSvc, resolver.route, auth.CookieOptions{
		Name:   d.Cfg.SessionCookie,
		Secure: d.Cfg.CookieSecure,
		TTL:    d.Cfg.SessionTTL,
	})
	secHandler := &securityHandler{
		backend:  d.Backend,
		sessions: sessions,
		flows:    flows,
		journal:  recorder,
		logger:   d.Logger,
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.LogLevel == "debug" {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Session(sessions, d.Cfg.SessionCookie, d.Logger))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	loginLimiter := middleware.RateLimit(d.Cache, "login", d.Cfg.LoginMaxPerMinute, middleware.LoginKey, d.Logger)
	RegisterAuthRoutes(api, authHandler, loginLimiter)
	api.Get("/route", resolver.handleRoute)
	RegisterDashboardRoutes(api, resolver)

	// Everything registered below requires a session.
	protected := api.Group("", middleware.RequireSession())
	protected.Get("/me", authHandler.Me)

	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	verifyLimiter := middleware.RateLimit(d.Cache, "verify", d.Cfg.VerifyMaxPerMinute, middleware.SessionKey, d.Logger)
	setupGate := middleware.RequireSetupAccess(resolver.state)
	RegisterSecurityRoutes(protected, secHandler, setupGate, idem, verifyLimiter)

	return nil
}

func newSealer(d Deps) (*session.Sealer, error) {
	if d.Cfg.SessionSecret != "" {
		return session.NewSealer(d.Cfg.SessionSecret)
	}
	d.Logger.Warn("SESSION_SECRET not set, sessions will not survive a restart")
	return session.NewRandomSealer()
}
