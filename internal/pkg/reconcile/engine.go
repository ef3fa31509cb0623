package reconcile

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// EngineOptions configures the reconciliation engine.
type EngineOptions struct {
	WebhookSecret string
	// ProcessTimeout bounds one full reconciliation, independent of the
	// inbound request's lifetime.
	ProcessTimeout time.Duration
}

// Result summarizes one processed delivery for the HTTP layer.
type Result struct {
	EventID   string
	EventType string
	ClubID    string
	Message   string
	Duplicate bool
	Skipped   bool
	Action    *Action
}

// Engine wires the verification, normalization, deduplication,
// reconciliation and persistence steps into the per-event pipeline.
type Engine struct {
	opts       EngineOptions
	normalizer *Normalizer
	ledger     Ledger
	gateway    Gateway
	locker     ClubLocker
	notifier   ActionNotifier
}

// NewEngine assembles an engine from its collaborators. notifier may be nil.
func NewEngine(opts EngineOptions, n *Normalizer, l Ledger, g Gateway, lk ClubLocker, an ActionNotifier) *Engine {
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 30 * time.Second
	}
	return &Engine{opts: opts, normalizer: n, ledger: l, gateway: g, locker: lk, notifier: an}
}

// Process runs one raw delivery through the pipeline. Processing is detached
// from the caller's cancellation: once verification passes, a disconnecting
// provider cannot abort a half-applied write.
//
// Error taxonomy for the caller: AuthenticationError (reject),
// NormalizationError (acknowledge and log), FatalError/TransientError
// (fail the delivery so the provider redelivers).
func (e *Engine) Process(ctx context.Context, payload []byte, signatureHeader string) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ProcessTimeout)
	defer cancel()

	event, err := VerifyEvent(payload, signatureHeader, e.opts.WebhookSecret)
	if err != nil {
		return nil, err
	}

	dev, err := e.normalizer.Normalize(ctx, event)
	if err != nil {
		return nil, err
	}

	result := &Result{
		EventID:   dev.ID,
		EventType: string(event.Type),
		ClubID:    dev.ClubID,
	}

	reservation, err := e.ledger.CheckAndReserve(ctx, dev)
	if err != nil {
		return nil, err
	}
	if reservation.Status == ReservationDuplicate {
		log.Infof("duplicate delivery of event %s ignored", dev.ID)
		result.Duplicate = true
		result.Message = "event already processed"
		return result, nil
	}

	outcome, err := e.reconcileReserved(ctx, dev)
	if err != nil {
		if markErr := e.ledger.MarkFailed(ctx, reservation.EntryID, err); markErr != nil {
			log.Errorf("failed to mark ledger entry %d failed: %v", reservation.EntryID, markErr)
		}
		return nil, err
	}

	if err := e.ledger.MarkApplied(ctx, reservation.EntryID); err != nil {
		// The write is already durable; the entry stays reserved, which
		// still short-circuits redeliveries.
		log.Warnf("failed to mark ledger entry %d applied: %v", reservation.EntryID, err)
	}

	if outcome.Action != nil && e.notifier != nil {
		if err := e.notifier.Publish(ctx, outcome.Action); err != nil {
			log.Warnf("failed to publish action %s for event %s: %v", outcome.Action.Type, dev.ID, err)
		}
	}

	result.Skipped = outcome.Skipped
	result.Action = outcome.Action
	switch {
	case dev.Kind == KindUnrecognized:
		result.Message = "unrecognized event type acknowledged"
	case outcome.Skipped:
		result.Message = "stale event skipped: " + outcome.Reason
	case outcome.Next != nil:
		result.Message = "subscription record reconciled"
	default:
		result.Message = "event recorded"
	}
	return result, nil
}

// reconcileReserved performs the stateful part of the pipeline for an event
// this caller owns. Record-mutating events run under the club lock so
// concurrent deliveries for the same club serialize; everything else needs
// no lock because it never touches the record.
func (e *Engine) reconcileReserved(ctx context.Context, dev *DomainEvent) (Outcome, error) {
	if !dev.MutatesRecord() {
		return Reconcile(nil, dev)
	}

	unlock, err := e.locker.Lock(ctx, dev.ClubID)
	if err != nil {
		return Outcome{}, &FatalError{Err: err}
	}
	defer unlock()

	current, err := e.gateway.Current(ctx, dev.ClubID)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := Reconcile(current, dev)
	if err != nil {
		return Outcome{}, &FatalError{Err: err}
	}

	if outcome.Next != nil {
		if err := e.gateway.Apply(ctx, dev.ClubID, outcome.Next); err != nil {
			return Outcome{}, err
		}
	}
	return outcome, nil
}
