package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("BACKEND_URL", "https://api.example.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.SessionTTL != defaultSessionTTL || cfg.FlowIdleTTL != defaultFlowIdleTTL {
		t.Fatalf("unexpected ttls %s %s", cfg.SessionTTL, cfg.FlowIdleTTL)
	}
	if cfg.VerifyMaxPerMinute != 0 || cfg.LoginMaxPerMinute != defaultLoginPerMinute {
		t.Fatalf("unexpected limits %d %d", cfg.VerifyMaxPerMinute, cfg.LoginMaxPerMinute)
	}
	if cfg.CookieSecure {
		t.Fatalf("dev cookies should not require https by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("BACKEND_URL", "https://api.example.test")
	t.Setenv("PORT", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "90s")
	t.Setenv("BACKEND_TIMEOUT", "4s")
	t.Setenv("VERIFY_MAX_PER_MINUTE", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" || cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if cfg.IdempotencyTTL != 90*time.Second || cfg.BackendTimeout != 4*time.Second || cfg.VerifyMaxPerMinute != 10 {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
}

func TestLoadRequiresBackend(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("BACKEND_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without BACKEND_URL")
	}
}

func TestLoadProductionRequiresInfra(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("BACKEND_URL", "https://api.example.test")
	t.Setenv("DATABASE_URL", "postgres://localhost/courier")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SESSION_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without SESSION_SECRET")
	}

	t.Setenv("SESSION_SECRET", "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.CookieSecure || cfg.IsDev() {
		t.Fatalf("production must use secure cookies")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("BACKEND_URL", "https://api.example.test")
	t.Setenv("SESSION_TTL", "forever")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid SESSION_TTL error")
	}
}
