package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/xchange/walletledger/internal/config"
	"github.com/xchange/walletledger/internal/routes"
)

// Server wraps the Fiber application, the sweeper schedule and shared dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	comps  routes.Components
	cron   *cron.Cron
	logger *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, broker *amqp.Channel, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	comps, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Broker: broker, Logger: logger})
	if err != nil {
		return nil, err
	}

	s := &Server{app: app, cfg: cfg, comps: comps, cron: cron.New(cron.WithLocation(time.UTC)), logger: logger}
	if err := s.scheduleSweeper(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) scheduleSweeper() error {
	if !s.comps.Sweeper.Enabled() {
		s.logger.Info("pending sweeper disabled")
		return nil
	}
	_, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.comps.Sweeper.Run(ctx); err != nil {
			s.logger.Error("pending sweep failed", slog.Any("error", err))
		}
	})
	return err
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the sweeper schedule and the HTTP server.
func (s *Server) Listen() error {
	s.cron.Start()
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests and waits for a running sweep.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	return err
}
