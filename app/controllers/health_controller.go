package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clubsync/clubsync/internal/pkg/database"
)

// HandleHealth answers liveness probes. A reachable database is the one
// dependency the webhook path cannot work without.
func HandleHealth(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": "not configured"})
	}

	sqlDB, err := db.DB()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}
