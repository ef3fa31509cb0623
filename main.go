package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/clubsync/clubsync/app/controllers"
	"github.com/clubsync/clubsync/internal/pkg/cache"
	"github.com/clubsync/clubsync/internal/pkg/config"
	"github.com/clubsync/clubsync/internal/pkg/database"
	"github.com/clubsync/clubsync/internal/pkg/env"
	"github.com/clubsync/clubsync/internal/pkg/reconcile"
	"github.com/clubsync/clubsync/internal/pkg/router"
	"github.com/clubsync/clubsync/internal/pkg/stripeapi"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		// A missing webhook secret would let unauthenticated payloads
		// mutate subscription state. Refuse to start instead.
		log.Fatalf("configuration error: %v", err)
	}

	database.SetupDatabase()
	cache.SetupCache()

	var stripeClient *stripeapi.Client
	var resolver reconcile.SubscriptionResolver
	if cfg.StripeSecretKey != "" {
		stripeClient = stripeapi.New(cfg.StripeSecretKey)
		resolver = stripeClient
	} else {
		log.Print("STRIPE_SECRET_KEY not set: metadata resolution and pass-through reads disabled")
	}

	ledger := reconcile.NewLedger(database.GetDB())
	engine := reconcile.NewEngine(
		reconcile.EngineOptions{
			WebhookSecret:  cfg.StripeWebhookSecret,
			ProcessTimeout: 30 * time.Second,
		},
		reconcile.NewNormalizer(resolver),
		ledger,
		reconcile.NewGateway(database.GetDB(), reconcile.RetryConfig{
			Attempts:       cfg.PersistRetryCount,
			BackoffBase:    cfg.PersistBackoffBase,
			AttemptTimeout: cfg.PersistAttemptTimeout,
		}),
		reconcile.NewRedsyncLocker(cache.GetClient()),
		reconcile.NewRedisNotifier(cache.GetClient()),
	)

	controllers.InitializeWebhookController(engine)
	controllers.InitializeBillingController(stripeClient, cfg.StripePublishableKey)

	reconcile.StartLedgerPruner(context.Background(), ledger, cfg.LedgerReplayWindow, time.Hour)

	app := fiber.New(fiber.Config{
		// Webhook payloads are small; anything bigger is not ours.
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
