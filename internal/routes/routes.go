package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/quorum/internal/auth"
	"github.com/congo-pay/quorum/internal/config"
	"github.com/congo-pay/quorum/internal/identity"
	"github.com/congo-pay/quorum/internal/ledger"
	"github.com/congo-pay/quorum/internal/middleware"
	"github.com/congo-pay/quorum/internal/multisig"
	"github.com/congo-pay/quorum/internal/notification"
	"github.com/congo-pay/quorum/internal/payout"
	"github.com/congo-pay/quorum/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache and
// Badger are optional in development.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Badger *badger.DB
	Logger *slog.Logger
}

// walletStore picks the wallet journal: Postgres, then Badger, then memory.
func walletStore(d Deps) (multisig.Store, string) {
	switch {
	case d.DB != nil:
		return multisig.NewPostgresStore(d.DB), "postgres"
	case d.Badger != nil:
		return multisig.NewBadgerStore(d.Badger), "badger"
	default:
		return multisig.NewMemoryStore(), "memory"
	}
}

// Setup configures middlewares and all application routes, and restores the
// persisted wallets.
func Setup(ctx context.Context, app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID",
	}))
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Payout rail
	var ledgerBackend ledger.Ledger
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
	}
	payoutSvc, err := payout.NewService(ctx, ledgerBackend, d.Logger)
	if err != nil {
		return fmt.Errorf("payout service: %w", err)
	}

	// Event fan-out
	publishers := notification.Fanout{notification.NewLoggerNotifier(d.Logger)}
	if d.Cache != nil {
		publishers = append(publishers, notification.NewRedisNotifier(d.Cache, ""))
	}

	// Wallets
	store, backend := walletStore(d)
	walletSvc, err := wallet.NewService(wallet.Config{
		Store:      store,
		Transferer: payoutSvc,
		Publisher:  publishers,
		Logger:     d.Logger,
	})
	if err != nil {
		return err
	}
	loaded, err := walletSvc.Load(ctx)
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}
	d.Logger.Info("wallets restored", slog.String("store", backend), slog.Int("count", loaded))

	// Identity and authentication
	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
	}
	identitySvc := identity.NewService(identityRepo)
	var nonces auth.NonceStore
	if d.Cache != nil {
		nonces = auth.NewRedisNonceStore(d.Cache)
	} else {
		nonces = auth.NewMemoryNonceStore()
	}
	authSvc := auth.NewService(d.Cfg, nonces, identitySvc)

	jwtmw := middleware.JWTAuth(authSvc)
	var idem fiber.Handler
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAuthRoutes(api, auth.NewHandler(authSvc), identity.NewHandler(identitySvc),
		middleware.ChallengeRateLimit(d.Cache, d.Cfg.ChallengeLimit), jwtmw)
	RegisterWalletRoutes(api, wallet.NewHandler(walletSvc), WalletMiddleware{
		Auth:         jwtmw,
		OptionalAuth: middleware.OptionalJWTAuth(authSvc),
		Idempotency:  idem,
	})
	RegisterPayoutRoutes(api, payout.NewHandler(payoutSvc))

	return nil
}
