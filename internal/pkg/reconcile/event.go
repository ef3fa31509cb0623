package reconcile

import "time"

// EventKind is the closed set of canonical domain events. Every provider
// event maps to exactly one kind; unknown provider types map to
// KindUnrecognized so schema additions on the provider side never fail
// delivery.
type EventKind int

const (
	KindUnrecognized EventKind = iota
	KindCheckoutCompleted
	KindCheckoutExpired
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindInvoicePaymentSucceeded
	KindInvoicePaymentFailed
)

func (k EventKind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindCheckoutExpired:
		return "checkout_expired"
	case KindSubscriptionCreated:
		return "subscription_created"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	case KindInvoicePaymentSucceeded:
		return "invoice_payment_succeeded"
	case KindInvoicePaymentFailed:
		return "invoice_payment_failed"
	default:
		return "unrecognized"
	}
}

// Checkout session modes as sent by the provider.
const (
	CheckoutModeSubscription = "subscription"
	CheckoutModePayment      = "payment"
)

// DomainEvent is the canonical, provider-decoupled representation of one
// webhook notification. Freeform provider metadata is resolved into the
// fixed fields here; nothing downstream touches raw payloads again.
type DomainEvent struct {
	Kind EventKind

	// ID is the globally unique provider event id, OccurredAt the provider
	// timestamp. OccurredAt is the authoritative ordering key; ID breaks
	// timestamp ties lexically.
	ID         string
	OccurredAt time.Time

	SubscriptionID string
	ClubID         string
	UserID         string
	Plan           string
	BillingCycle   string

	// Status is the provider subscription status translated into the local
	// status vocabulary. Only meaningful for subscription events.
	Status string

	PeriodStart time.Time
	PeriodEnd   time.Time
	// PeriodSynthesized marks period bounds that were defaulted to the
	// normalization instant because the provider omitted them. The
	// reconciler treats synthesized bounds as lower confidence and never
	// lets them overwrite provider-supplied ones.
	PeriodSynthesized bool

	CancelAtPeriodEnd bool

	// CheckoutMode distinguishes subscription checkouts from one-time
	// payments for KindCheckoutCompleted.
	CheckoutMode string

	// AmountMinor is in integer minor currency units (cents), never floats.
	AmountMinor int64
	Currency    string
}

// RequiresClubID reports whether the event cannot be reconciled without a
// club id. Payment-succeeded events are audit-only and unrecognized events
// are log-only, so both tolerate absence.
func (e *DomainEvent) RequiresClubID() bool {
	switch e.Kind {
	case KindInvoicePaymentSucceeded, KindUnrecognized:
		return false
	default:
		return true
	}
}

// MutatesRecord reports whether applying the event can change the stored
// subscription record.
func (e *DomainEvent) MutatesRecord() bool {
	switch e.Kind {
	case KindUnrecognized, KindInvoicePaymentSucceeded:
		return false
	case KindCheckoutCompleted:
		return e.CheckoutMode != CheckoutModePayment
	default:
		return true
	}
}
