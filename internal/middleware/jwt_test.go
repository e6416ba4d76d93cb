package middleware

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/quorum/internal/auth"
	"github.com/congo-pay/quorum/internal/config"
	"github.com/congo-pay/quorum/internal/identity"
)

func loginToken(t *testing.T, svc *auth.Service) (common.Address, string) {
	t.Helper()
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	ch, err := svc.Challenge(ctx, addr)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(ch.Message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	pair, err := svc.Login(ctx, addr, hexutil.Encode(sig))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return addr, pair.AccessToken
}

func setupAuthApp(t *testing.T) (*fiber.App, *auth.Service) {
	t.Helper()
	cfg := config.Config{AppName: "Quorum", JWTSecret: "secret", AccessTokenTTL: time.Minute, ChallengeTTL: time.Minute}
	svc := auth.NewService(cfg, auth.NewMemoryNonceStore(), identity.NewService(identity.NewMemoryRepository()))

	whoami := func(c *fiber.Ctx) error {
		addr, ok := c.Locals(identity.CallerKey).(common.Address)
		if !ok {
			return c.SendString("anonymous")
		}
		return c.SendString(addr.Hex())
	}
	app := fiber.New()
	app.Get("/required", JWTAuth(svc), whoami)
	app.Get("/optional", OptionalJWTAuth(svc), whoami)
	return app, svc
}

func get(t *testing.T, app *fiber.App, path, token string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var b strings.Builder
	buf := make([]byte, 512)
	for {
		n, err := resp.Body.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return resp.StatusCode, b.String()
}

func TestJWTAuthSetsCaller(t *testing.T) {
	app, svc := setupAuthApp(t)
	addr, token := loginToken(t, svc)

	status, body := get(t, app, "/required", token)
	if status != fiber.StatusOK || body != addr.Hex() {
		t.Fatalf("expected 200 %s, got %d %s", addr.Hex(), status, body)
	}

	if status, _ := get(t, app, "/required", ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status, _ := get(t, app, "/required", token+"x"); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", status)
	}
}

func TestOptionalJWTAuth(t *testing.T) {
	app, svc := setupAuthApp(t)
	addr, token := loginToken(t, svc)

	if status, body := get(t, app, "/optional", ""); status != fiber.StatusOK || body != "anonymous" {
		t.Fatalf("expected anonymous pass-through, got %d %s", status, body)
	}
	if status, body := get(t, app, "/optional", token); status != fiber.StatusOK || body != addr.Hex() {
		t.Fatalf("expected authenticated caller, got %d %s", status, body)
	}
	if status, _ := get(t, app, "/optional", "garbage"); status != fiber.StatusUnauthorized {
		t.Fatalf("expected invalid token to be rejected, got %d", status)
	}
}

func TestChallengeRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Post("/challenge", ChallengeRateLimit(cache, 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	post := func(address string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/challenge", strings.NewReader(`{"address":"`+address+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if status := post("0xabc"); status != fiber.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, status)
		}
	}
	if status := post("0xABC"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 once the limit is hit, got %d", status)
	}
	if status := post("0xdef"); status != fiber.StatusCreated {
		t.Fatalf("expected other addresses to be unaffected, got %d", status)
	}
}
