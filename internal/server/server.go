package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/quorum/internal/config"
	"github.com/congo-pay/quorum/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// Backends are the optional storage connections handed to the routes.
type Backends struct {
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Badger *badger.DB
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(ctx context.Context, cfg config.Config, b Backends, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: !cfg.IsDev(),
	})

	deps := routes.Deps{Cfg: cfg, DB: b.DB, Cache: b.Cache, Badger: b.Badger, Logger: logger}
	if err := routes.Setup(ctx, app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
