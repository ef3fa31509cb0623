package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"

	"github.com/clubsync/clubsync/app/models"
)

// Metadata keys the checkout flow attaches to sessions and subscriptions.
const (
	metaClubID       = "club_id"
	metaUserID       = "user_id"
	metaPlan         = "plan"
	metaBillingCycle = "billing_cycle"
)

// SubscriptionResolver fetches the metadata of a provider subscription.
// Invoice events often carry no metadata of their own; the normalizer then
// inherits it from the referenced subscription.
type SubscriptionResolver interface {
	SubscriptionMetadata(ctx context.Context, subscriptionID string) (map[string]string, error)
}

// Normalizer maps verified provider event envelopes into DomainEvents.
type Normalizer struct {
	resolver SubscriptionResolver
	now      func() time.Time
}

// NewNormalizer creates a normalizer. resolver may be nil; metadata
// inheritance from referenced subscriptions is then unavailable.
func NewNormalizer(resolver SubscriptionResolver) *Normalizer {
	return &Normalizer{resolver: resolver, now: time.Now}
}

// flexID accepts provider references that arrive either as a bare id string
// or as an expanded object with an "id" field.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*f = flexID(obj.ID)
	return nil
}

type rawCheckoutSession struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Subscription flexID            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
	AmountTotal  int64             `json:"amount_total"`
	Currency     string            `json:"currency"`
}

type rawSubscription struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				LookupKey string `json:"lookup_key"`
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
				UnitAmount int64  `json:"unit_amount"`
				Currency   string `json:"currency"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type rawInvoice struct {
	ID                  string            `json:"id"`
	Subscription        flexID            `json:"subscription"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
}

// Normalize maps a verified provider event into exactly one DomainEvent.
// Unknown provider types normalize to KindUnrecognized rather than failing;
// a missing club id on an event that requires one is a NormalizationError.
func (n *Normalizer) Normalize(ctx context.Context, event *stripe.Event) (*DomainEvent, error) {
	dev := &DomainEvent{
		ID:         event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Created <= 0 {
		dev.OccurredAt = n.now().UTC()
	}

	var err error
	switch string(event.Type) {
	case "checkout.session.completed":
		err = n.normalizeCheckout(ctx, event, dev, KindCheckoutCompleted)
	case "checkout.session.expired":
		err = n.normalizeCheckout(ctx, event, dev, KindCheckoutExpired)
	case "customer.subscription.created":
		err = n.normalizeSubscription(event, dev, KindSubscriptionCreated)
	case "customer.subscription.updated":
		err = n.normalizeSubscription(event, dev, KindSubscriptionUpdated)
	case "customer.subscription.deleted":
		err = n.normalizeSubscription(event, dev, KindSubscriptionDeleted)
	case "invoice.payment_succeeded":
		err = n.normalizeInvoice(ctx, event, dev, KindInvoicePaymentSucceeded)
	case "invoice.payment_failed":
		err = n.normalizeInvoice(ctx, event, dev, KindInvoicePaymentFailed)
	default:
		dev.Kind = KindUnrecognized
		return dev, nil
	}
	if err != nil {
		return nil, err
	}

	if dev.RequiresClubID() && dev.ClubID == "" {
		return nil, &NormalizationError{
			EventID:   event.ID,
			EventType: string(event.Type),
			Reason:    "no club id resolvable from event or referenced subscription metadata",
		}
	}
	return dev, nil
}

func (n *Normalizer) normalizeCheckout(ctx context.Context, event *stripe.Event, dev *DomainEvent, kind EventKind) error {
	var session rawCheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return &NormalizationError{EventID: event.ID, EventType: string(event.Type), Reason: "malformed checkout session payload: " + err.Error()}
	}

	dev.Kind = kind
	dev.CheckoutMode = strings.TrimSpace(session.Mode)
	dev.SubscriptionID = string(session.Subscription)
	dev.AmountMinor = session.AmountTotal
	dev.Currency = strings.ToLower(strings.TrimSpace(session.Currency))

	// Session metadata wins; a referenced subscription only fills gaps.
	meta := session.Metadata
	if meta[metaClubID] == "" && dev.SubscriptionID != "" {
		meta = mergeMetadata(meta, n.fetchSubscriptionMetadata(ctx, dev.SubscriptionID))
	}
	applyMetadata(dev, meta)

	// Checkout sessions carry no period; the subscription events that follow
	// deliver the real bounds.
	n.synthesizePeriod(dev)
	return nil
}

func (n *Normalizer) normalizeSubscription(event *stripe.Event, dev *DomainEvent, kind EventKind) error {
	var sub rawSubscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return &NormalizationError{EventID: event.ID, EventType: string(event.Type), Reason: "malformed subscription payload: " + err.Error()}
	}

	dev.Kind = kind
	dev.SubscriptionID = sub.ID
	dev.Status = mapProviderStatus(sub.Status)
	dev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	applyMetadata(dev, sub.Metadata)

	if len(sub.Items.Data) > 0 {
		price := sub.Items.Data[0].Price
		if dev.Plan == "" {
			dev.Plan = strings.TrimSpace(price.LookupKey)
		}
		if dev.BillingCycle == "" {
			dev.BillingCycle = normalizeCycle(price.Recurring.Interval)
		}
		dev.AmountMinor = price.UnitAmount
		dev.Currency = strings.ToLower(strings.TrimSpace(price.Currency))
	}

	if sub.CurrentPeriodStart > 0 && sub.CurrentPeriodEnd > 0 {
		dev.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
		dev.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	} else {
		n.synthesizePeriod(dev)
	}
	return nil
}

func (n *Normalizer) normalizeInvoice(ctx context.Context, event *stripe.Event, dev *DomainEvent, kind EventKind) error {
	var inv rawInvoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return &NormalizationError{EventID: event.ID, EventType: string(event.Type), Reason: "malformed invoice payload: " + err.Error()}
	}

	dev.Kind = kind
	dev.SubscriptionID = string(inv.Subscription)
	dev.Currency = strings.ToLower(strings.TrimSpace(inv.Currency))
	if kind == KindInvoicePaymentSucceeded {
		dev.AmountMinor = inv.AmountPaid
	} else {
		dev.AmountMinor = inv.AmountDue
	}

	// Precedence: invoice metadata, then the embedded subscription details,
	// then a one-shot fetch of the referenced subscription.
	meta := mergeMetadata(inv.Metadata, inv.SubscriptionDetails.Metadata)
	if meta[metaClubID] == "" && dev.SubscriptionID != "" {
		meta = mergeMetadata(meta, n.fetchSubscriptionMetadata(ctx, dev.SubscriptionID))
	}
	applyMetadata(dev, meta)

	n.synthesizePeriod(dev)
	return nil
}

func (n *Normalizer) synthesizePeriod(dev *DomainEvent) {
	now := n.now().UTC()
	dev.PeriodStart = now
	dev.PeriodEnd = now
	dev.PeriodSynthesized = true
}

func (n *Normalizer) fetchSubscriptionMetadata(ctx context.Context, subscriptionID string) map[string]string {
	if n.resolver == nil {
		return nil
	}
	meta, err := n.resolver.SubscriptionMetadata(ctx, subscriptionID)
	if err != nil {
		log.Warnf("failed to resolve metadata from subscription %s: %v", subscriptionID, err)
		return nil
	}
	return meta
}

// mergeMetadata overlays fallback values under primary ones.
func mergeMetadata(primary, fallback map[string]string) map[string]string {
	if len(fallback) == 0 {
		return primary
	}
	merged := make(map[string]string, len(primary)+len(fallback))
	for k, v := range fallback {
		merged[k] = v
	}
	for k, v := range primary {
		if strings.TrimSpace(v) != "" {
			merged[k] = v
		}
	}
	return merged
}

func applyMetadata(dev *DomainEvent, meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	dev.ClubID = strings.TrimSpace(meta[metaClubID])
	dev.UserID = strings.TrimSpace(meta[metaUserID])
	if plan := strings.TrimSpace(meta[metaPlan]); plan != "" {
		dev.Plan = plan
	}
	if cycle := normalizeCycle(meta[metaBillingCycle]); cycle != models.BillingCycleUnknown {
		dev.BillingCycle = cycle
	}
}

func normalizeCycle(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case models.BillingCycleMonth, models.BillingCycleYear:
		return strings.ToLower(strings.TrimSpace(interval))
	default:
		return models.BillingCycleUnknown
	}
}

// mapProviderStatus translates the provider's subscription status vocabulary
// into the local closed set.
func mapProviderStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return models.SubscriptionStatusActive
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled", "cancelled", "incomplete_expired":
		return models.SubscriptionStatusCancelled
	case "incomplete", "paused":
		return models.SubscriptionStatusIncomplete
	case "":
		return ""
	default:
		return models.SubscriptionStatusIncomplete
	}
}
