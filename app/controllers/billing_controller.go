package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/clubsync/clubsync/app/models"
	"github.com/clubsync/clubsync/internal/pkg/database"
	"github.com/clubsync/clubsync/internal/pkg/metrics/counter"
	"github.com/clubsync/clubsync/internal/pkg/stripeapi"
)

var (
	billingClient         *stripeapi.Client
	billingPublishableKey string
)

// InitializeBillingController injects the Stripe client handle used by the
// pass-through read endpoints. client may be nil when no secret key is
// configured; the affected endpoints then answer 503.
func InitializeBillingController(client *stripeapi.Client, publishableKey string) {
	billingClient = client
	billingPublishableKey = strings.TrimSpace(publishableKey)
}

// HandleBillingConfig returns the publishable key checkout clients embed.
func HandleBillingConfig(c *fiber.Ctx) error {
	if billingPublishableKey == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "publishable_key_not_configured"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"publishable_key": billingPublishableKey})
}

// HandleBillingAccount forwards a single account read to the provider and
// reshapes the response.
func HandleBillingAccount(c *fiber.Ctx) error {
	if billingClient == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stripe_client_not_configured"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	account, err := billingClient.Account(ctx)
	if err != nil {
		log.Errorf("account lookup failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "account_lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":               account.ID,
		"country":          account.Country,
		"default_currency": account.DefaultCurrency,
		"charges_enabled":  account.ChargesEnabled,
		"payouts_enabled":  account.PayoutsEnabled,
	})
}

// HandleBillingPaymentIntent forwards a single payment-intent read to the
// provider and reshapes the response.
func HandleBillingPaymentIntent(c *fiber.Ctx) error {
	if billingClient == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "stripe_client_not_configured"})
	}

	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payment_intent_id_required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	intent, err := billingClient.PaymentIntent(ctx, id)
	if err != nil {
		log.Errorf("payment intent lookup failed for %s: %v", id, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_intent_lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":       intent.ID,
		"status":   intent.Status,
		"amount":   intent.Amount,
		"currency": intent.Currency,
		"created":  intent.Created,
	})
}

// HandleBillingSubscription returns the reconciled subscription record for a
// club.
func HandleBillingSubscription(c *fiber.Ctx) error {
	clubID := strings.TrimSpace(c.Params("clubID"))
	if clubID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "club_id_required"})
	}

	var record models.SubscriptionRecord
	err := database.GetDB().Where("club_id = ?", clubID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription_not_found"})
		}
		log.Errorf("subscription lookup failed for club %s: %v", clubID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(record)
}

// HandleBillingStats exposes the webhook processing counters.
func HandleBillingStats(c *fiber.Ctx) error {
	stats, err := counter.Snapshot()
	if err != nil {
		log.Errorf("failed to read processing counters: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"counters": stats})
}
