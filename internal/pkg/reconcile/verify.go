package reconcile

import (
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// VerifyEvent authenticates the raw payload against the signature header and
// shared secret, and returns the parsed event envelope. It must be handed
// the exact byte sequence as received from the provider; any re-serialized
// body breaks the HMAC.
func VerifyEvent(payload []byte, signatureHeader, secret string) (*stripe.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, &AuthenticationError{Reason: "missing Stripe-Signature header"}
	}
	if strings.TrimSpace(secret) == "" {
		return nil, &AuthenticationError{Reason: "webhook secret is not configured"}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &AuthenticationError{Reason: err.Error()}
	}
	return &event, nil
}
