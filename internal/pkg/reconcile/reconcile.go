package reconcile

import (
	"fmt"

	"github.com/clubsync/clubsync/app/models"
)

// Outcome is the result of reconciling one domain event against the current
// record. Next is nil when nothing should be written; Action is nil when no
// downstream consumer needs to act.
type Outcome struct {
	Next    *models.SubscriptionRecord
	Action  *Action
	Skipped bool
	Reason  string
}

// Reconcile computes the next subscription record for a club from the
// current one (nil when none exists) and a domain event. Pure function, no
// I/O.
//
// Ordering rule: a record-mutating event applies only when its provider
// timestamp is at or after the timestamp that produced the current record.
// Equal timestamps tie-break by lexical comparison of event ids, so delivery
// order never changes the converged state.
func Reconcile(current *models.SubscriptionRecord, ev *DomainEvent) (Outcome, error) {
	switch ev.Kind {
	case KindUnrecognized:
		return Outcome{Skipped: true, Reason: "unrecognized event type"}, nil

	case KindInvoicePaymentSucceeded:
		// Audit only: a successful payment never mutates subscription state.
		return Outcome{Action: newAction(ActionRecordPayment, ev, "")}, nil

	case KindCheckoutCompleted:
		if ev.CheckoutMode == CheckoutModePayment {
			// One-time purchase: no subscription record involved.
			return Outcome{Action: newAction(ActionUpdatePaymentStatus, ev, "")}, nil
		}
		if stale(current, ev) {
			return staleOutcome(current, ev), nil
		}
		next := merge(current, ev, models.SubscriptionStatusActive)
		return Outcome{Next: next, Action: newAction(ActionUpdateSubscriptionStatus, ev, next.Status)}, nil

	case KindCheckoutExpired:
		if stale(current, ev) {
			return staleOutcome(current, ev), nil
		}
		next := merge(current, ev, models.SubscriptionStatusIncomplete)
		return Outcome{Next: next, Action: newAction(ActionUpdateSubscriptionStatus, ev, next.Status)}, nil

	case KindSubscriptionCreated:
		if stale(current, ev) {
			return staleOutcome(current, ev), nil
		}
		status := ev.Status
		if status == "" {
			status = models.SubscriptionStatusActive
		}
		next := merge(current, ev, status)
		return Outcome{Next: next, Action: newAction(ActionCreateSubscription, ev, next.Status)}, nil

	case KindSubscriptionUpdated:
		if stale(current, ev) {
			return staleOutcome(current, ev), nil
		}
		status := ev.Status
		if status == "" && current != nil {
			status = current.Status
		}
		next := merge(current, ev, status)
		return Outcome{Next: next, Action: newAction(ActionUpdateSubscription, ev, next.Status)}, nil

	case KindSubscriptionDeleted:
		if stale(current, ev) {
			return staleOutcome(current, ev), nil
		}
		// Deletion is a status transition, never an entity removal.
		next := merge(current, ev, models.SubscriptionStatusCancelled)
		return Outcome{Next: next, Action: newAction(ActionCancelSubscription, ev, next.Status)}, nil

	case KindInvoicePaymentFailed:
		if stale(current, ev) {
			return staleOutcome(current, ev), nil
		}
		next := merge(current, ev, models.SubscriptionStatusPastDue)
		return Outcome{Next: next, Action: newAction(ActionUpdateSubscriptionStatus, ev, next.Status)}, nil

	default:
		return Outcome{}, fmt.Errorf("unhandled event kind %d", ev.Kind)
	}
}

// stale reports whether ev must be dropped to preserve the ordering
// invariant: a stale update arriving after a newer deletion must not
// resurrect the record.
func stale(current *models.SubscriptionRecord, ev *DomainEvent) bool {
	if current == nil || current.SourceEventTime.IsZero() {
		return false
	}
	if ev.OccurredAt.After(current.SourceEventTime) {
		return false
	}
	if ev.OccurredAt.Before(current.SourceEventTime) {
		return true
	}
	// Timestamp collision: lexical event id comparison, arbitrary but
	// reproducible regardless of delivery order.
	return ev.ID <= current.SourceEventID
}

func staleOutcome(current *models.SubscriptionRecord, ev *DomainEvent) Outcome {
	return Outcome{
		Skipped: true,
		Reason: fmt.Sprintf("event %s (%s) is older than applied event %s (%s)",
			ev.ID, ev.OccurredAt.Format("2006-01-02T15:04:05Z"),
			current.SourceEventID, current.SourceEventTime.Format("2006-01-02T15:04:05Z")),
	}
}

// merge builds the next record from the current one, overwriting only what
// the event actually carries. Provider-supplied period bounds always win;
// synthesized bounds only fill an empty record.
func merge(current *models.SubscriptionRecord, ev *DomainEvent, status string) *models.SubscriptionRecord {
	next := models.SubscriptionRecord{ClubID: ev.ClubID}
	if current != nil {
		next = *current
	}

	if ev.UserID != "" {
		next.UserID = ev.UserID
	}
	if ev.SubscriptionID != "" {
		next.SubscriptionID = ev.SubscriptionID
	}
	if ev.Plan != "" {
		next.Plan = ev.Plan
	}
	if ev.BillingCycle != "" && ev.BillingCycle != models.BillingCycleUnknown {
		next.BillingCycle = ev.BillingCycle
	}
	if next.BillingCycle == "" {
		next.BillingCycle = models.BillingCycleUnknown
	}

	if !ev.PeriodSynthesized {
		next.CurrentPeriodStart = ev.PeriodStart
		next.CurrentPeriodEnd = ev.PeriodEnd
	} else if next.CurrentPeriodStart.IsZero() {
		next.CurrentPeriodStart = ev.PeriodStart
		next.CurrentPeriodEnd = ev.PeriodEnd
	}

	switch ev.Kind {
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		next.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	}

	next.Status = status
	next.SourceEventID = ev.ID
	next.SourceEventTime = ev.OccurredAt
	return &next
}
