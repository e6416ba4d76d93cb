package config

import (
	"testing"
	"time"
)

func TestLoadDevDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret == "" {
		t.Fatal("expected a development jwt secret")
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.ChallengeTTL != defaultChallengeTTL || cfg.AccessTokenTTL != defaultAccessTokenTTL {
		t.Fatalf("unexpected ttl defaults: %+v", cfg)
	}
}

func TestLoadRequiresBackendsOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/quorum")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "s3cret")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing REDIS_URL to fail")
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing JWT_SECRET to fail")
	}
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "90m")
	t.Setenv("CHALLENGE_TTL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("expected 3s shutdown, got %s", cfg.ShutdownPeriod)
	}
	if cfg.IdempotencyTTL != 90*time.Minute {
		t.Fatalf("expected 90m idempotency ttl, got %s", cfg.IdempotencyTTL)
	}
	if cfg.ChallengeTTL != 30*time.Second {
		t.Fatalf("expected 30s challenge ttl, got %s", cfg.ChallengeTTL)
	}

	t.Setenv("ACCESS_TOKEN_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid duration to fail")
	}
}
