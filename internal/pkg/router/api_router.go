package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstore "github.com/gofiber/storage/redis"

	"github.com/clubsync/clubsync/app/controllers"
	"github.com/clubsync/clubsync/internal/pkg/env"
	"github.com/clubsync/clubsync/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Rate limit state lives in Redis so all replicas share one budget.
	store := redisstore.New(redisstore.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
	})

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    store,
	}))

	v1 := api.Group("/v1")
	v1.Get("/billing/config", controllers.HandleBillingConfig)

	protected := v1.Group("/billing", middleware.APIKeyAuthMiddleware(env.GetEnv("SERVICE_API_KEY", "")))
	protected.Get("/account", controllers.HandleBillingAccount)
	protected.Get("/payment-intent/:id", controllers.HandleBillingPaymentIntent)
	protected.Get("/subscription/:clubID", controllers.HandleBillingSubscription)
	protected.Get("/stats", controllers.HandleBillingStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
