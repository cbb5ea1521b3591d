package routes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/xchange/walletledger/internal/config"
	"github.com/xchange/walletledger/internal/funding"
	"github.com/xchange/walletledger/internal/ledger"
	"github.com/xchange/walletledger/internal/middleware"
	"github.com/xchange/walletledger/internal/notification"
	"github.com/xchange/walletledger/internal/payment"
	"github.com/xchange/walletledger/internal/reconcile"
	"github.com/xchange/walletledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache and
// Broker may be nil in development.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Broker *amqp.Channel
	Logger *slog.Logger

	// Rails overrides the payment adapters chosen from configuration.
	Rails payment.Registry
}

// Components are the wired services that outlive route setup.
type Components struct {
	Wallets   *wallet.Service
	Ledger    ledger.Store
	Funding   *funding.Service
	Reconcile *reconcile.Service
	Sweeper   *funding.Sweeper
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (Components, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return Components{}, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return Components{}, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	comps, err := build(d)
	if err != nil {
		return Components{}, err
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "UTC",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	RegisterWebhookRoutes(app, reconcile.NewHandler(comps.Reconcile))

	api := app.Group("/api/v1", middleware.Identity([]byte(d.Cfg.AuthTokenSecret)))
	RegisterFundingRoutes(api, funding.NewHandler(comps.Funding),
		middleware.RateLimit(d.Cache, "fund", d.Cfg.FundRateLimitPerMin, d.Logger),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	)
	RegisterWalletRoutes(api, wallet.NewHandler(comps.Wallets))
	RegisterTransactionRoutes(api, ledger.NewHandler(comps.Ledger))

	return comps, nil
}

func build(d Deps) (Components, error) {
	var (
		walletStore wallet.Store
		ledgerStore ledger.Store
	)
	if d.DB != nil {
		walletStore = wallet.NewPostgresStore(d.DB)
		ledgerStore = ledger.NewPostgresStore(d.DB)
	} else {
		d.Logger.Warn("DATABASE_URL not set; using in-memory stores")
		walletStore = wallet.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore(walletStore)
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	if d.Broker != nil {
		n, err := notification.NewAMQPNotifier(d.Broker, d.Cfg.AMQPExchange)
		if err != nil {
			return Components{}, err
		}
		notifier = n
	}

	rails := d.Rails
	if rails == nil {
		rails = payment.Adapters(d.Cfg.StripeSecretKey, d.Cfg.StripeReturnURL)
	}

	var kyc funding.KYCChecker
	if d.Cfg.RequireKYC {
		kyc = funding.KYCFunc(func(ctx context.Context, _ string) (bool, error) {
			return middleware.KYCApproved(ctx), nil
		})
	}

	walletSvc := wallet.NewService(walletStore, d.Logger)
	fundingSvc, err := funding.NewService(walletSvc, ledgerStore, rails, funding.Options{
		KYC:            kyc,
		Notifier:       notifier,
		AdapterTimeout: d.Cfg.AdapterTimeout,
		Logger:         d.Logger,
	})
	if err != nil {
		return Components{}, err
	}

	var dedup reconcile.Deduper
	if d.Cache != nil {
		dedup = reconcile.NewRedisDeduper(d.Cache, d.Cfg.DedupTTL)
	}
	reconcileSvc, err := reconcile.NewService(ledgerStore, walletStore, providers(d.Cfg), reconcile.Options{
		Deduper:  dedup,
		Notifier: notifier,
		Logger:   d.Logger,
	})
	if err != nil {
		return Components{}, err
	}

	return Components{
		Wallets:   walletSvc,
		Ledger:    ledgerStore,
		Funding:   fundingSvc,
		Reconcile: reconcileSvc,
		Sweeper:   funding.NewSweeper(ledgerStore, notifier, d.Cfg.PendingExpiry, d.Logger),
	}, nil
}

// providers returns a webhook strategy for every provider with a configured secret.
func providers(cfg config.Config) []reconcile.Provider {
	var out []reconcile.Provider
	if cfg.StripeWebhookSecret != "" {
		out = append(out, reconcile.NewStripeProvider(cfg.StripeWebhookSecret))
	}
	if cfg.FlutterwaveSecretHash != "" {
		out = append(out, reconcile.NewFlutterwaveProvider(cfg.FlutterwaveSecretHash))
	}
	if cfg.InteracWebhookSecret != "" {
		out = append(out, reconcile.NewHMACProvider("interac", "X-Signature", cfg.InteracWebhookSecret))
	}
	return out
}
