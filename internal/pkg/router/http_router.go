package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/clubsync/clubsync/app/controllers"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", controllers.HandleHealth)

	// Provider webhooks: signature-verified in the engine, raw body required.
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
