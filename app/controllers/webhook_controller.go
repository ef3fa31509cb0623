package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/clubsync/clubsync/internal/pkg/metrics/counter"
	"github.com/clubsync/clubsync/internal/pkg/reconcile"
)

// WebhookProcessor is the engine surface the controller needs.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signatureHeader string) (*reconcile.Result, error)
}

var webhookProcessor WebhookProcessor

// InitializeWebhookController injects the reconciliation engine.
func InitializeWebhookController(p WebhookProcessor) {
	webhookProcessor = p
}

type webhookAck struct {
	EventType      string            `json:"event_type"`
	Data           fiber.Map         `json:"data"`
	Message        string            `json:"message"`
	ActionRequired *reconcile.Action `json:"action_required"`
}

// HandleStripeWebhook ingests one provider delivery. The route bypasses any
// body transformation: verification needs the exact byte sequence Stripe
// signed, so the raw body is copied before anything touches it.
func HandleStripeWebhook(c *fiber.Ctx) error {
	if webhookProcessor == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "webhook_engine_unavailable"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	// Processing is detached from the request context inside the engine:
	// if Stripe times out and disconnects, reconciliation still runs to
	// completion instead of aborting mid-write.
	result, err := webhookProcessor.Process(context.Background(), rawBody, signature)
	if err != nil {
		var authErr *reconcile.AuthenticationError
		if errors.As(err, &authErr) {
			log.Warnf("webhook rejected: %v", authErr)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}

		var normErr *reconcile.NormalizationError
		if errors.As(err, &normErr) {
			// The payload itself is incomplete; redelivery cannot fix it.
			// Acknowledge so the provider stops retrying, and keep the log.
			log.Warnf("webhook acknowledged without reconciliation: %v", normErr)
			_ = counter.AddFailed(normErr.EventType)
			return c.Status(fiber.StatusOK).JSON(webhookAck{
				EventType: normErr.EventType,
				Data:      fiber.Map{"event_id": normErr.EventID},
				Message:   "event acknowledged, required metadata missing",
			})
		}

		log.Errorf("webhook processing failed: %v", err)
		_ = counter.AddFailed("")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconciliation_failed"})
	}

	_ = counter.AddReceived(result.EventType)
	switch {
	case result.Duplicate:
		_ = counter.AddDuplicate(result.EventType)
	case result.Skipped:
		_ = counter.AddSkipped(result.EventType)
	default:
		_ = counter.AddApplied(result.EventType)
	}

	return c.Status(fiber.StatusOK).JSON(webhookAck{
		EventType: result.EventType,
		Data: fiber.Map{
			"event_id":  result.EventID,
			"club_id":   result.ClubID,
			"duplicate": result.Duplicate,
			"skipped":   result.Skipped,
		},
		Message:        result.Message,
		ActionRequired: result.Action,
	})
}
