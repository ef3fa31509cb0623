package reconcile

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/clubsync/clubsync/app/models"
)

const testWebhookSecret = "whsec_test_secret"

// fakeLedger mirrors the reserve semantics of the database-backed ledger:
// conditional insert on event id, failed entries re-reservable exactly once.
type fakeLedger struct {
	mu      sync.Mutex
	nextID  uint
	byEvent map[string]*models.WebhookEvent
	byID    map[uint]*models.WebhookEvent
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		byEvent: make(map[string]*models.WebhookEvent),
		byID:    make(map[uint]*models.WebhookEvent),
	}
}

func (l *fakeLedger) CheckAndReserve(_ context.Context, ev *DomainEvent) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if stored, ok := l.byEvent[ev.ID]; ok {
		if stored.Applied() {
			return Reservation{Status: ReservationDuplicate, EntryID: stored.ID}, nil
		}
		if stored.ProcessingError != "" {
			stored.ProcessingError = ""
			stored.ProcessedAt = nil
			return Reservation{Status: ReservationFresh, EntryID: stored.ID}, nil
		}
		return Reservation{Status: ReservationDuplicate, EntryID: stored.ID}, nil
	}

	l.nextID++
	entry := &models.WebhookEvent{
		EventID:      ev.ID,
		EventType:    ev.Kind.String(),
		ClubID:       ev.ClubID,
		ProviderTime: ev.OccurredAt,
	}
	entry.ID = l.nextID
	l.byEvent[ev.ID] = entry
	l.byID[entry.ID] = entry
	return Reservation{Status: ReservationFresh, EntryID: entry.ID}, nil
}

func (l *fakeLedger) MarkApplied(_ context.Context, entryID uint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.byID[entryID]; ok {
		now := time.Now()
		entry.ProcessedAt = &now
		entry.ProcessingError = ""
	}
	return nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, entryID uint, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.byID[entryID]; ok {
		now := time.Now()
		entry.ProcessedAt = &now
		entry.ProcessingError = cause.Error()
	}
	return nil
}

func (l *fakeLedger) PruneBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (l *fakeLedger) entry(eventID string) *models.WebhookEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byEvent[eventID]
}

func (l *fakeLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byEvent)
}

type fakeGateway struct {
	mu       sync.Mutex
	records  map[string]models.SubscriptionRecord
	applies  int
	failNext []error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{records: make(map[string]models.SubscriptionRecord)}
}

func (g *fakeGateway) Current(_ context.Context, clubID string) (*models.SubscriptionRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.records[clubID]; ok {
		copied := r
		return &copied, nil
	}
	return nil, nil
}

func (g *fakeGateway) Apply(_ context.Context, clubID string, next *models.SubscriptionRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.failNext) > 0 {
		err := g.failNext[0]
		g.failNext = g.failNext[1:]
		return err
	}
	g.applies++
	g.records[clubID] = *next
	return nil
}

func (g *fakeGateway) record(clubID string) *models.SubscriptionRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.records[clubID]; ok {
		copied := r
		return &copied
	}
	return nil
}

func (g *fakeGateway) applyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applies
}

type fakeNotifier struct {
	mu      sync.Mutex
	actions []*Action
}

func (n *fakeNotifier) Publish(_ context.Context, action *Action) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actions = append(n.actions, action)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.actions)
}

// signedPayload builds an event envelope and a valid signature header the
// same way the provider does: HMAC over "<timestamp>.<payload>".
func signedPayload(id, typ string, created int64, object string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"id": %q, "type": %q, "created": %d, "data": {"object": %s}}`,
		id, typ, created, object))
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testWebhookSecret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
	return payload, header
}

func newTestEngine(ledger Ledger, gateway Gateway, notifier ActionNotifier) *Engine {
	return NewEngine(
		EngineOptions{WebhookSecret: testWebhookSecret},
		NewNormalizer(nil),
		ledger, gateway,
		NewKeyedMutexLocker(),
		notifier,
	)
}

func TestEngineAppliesCheckoutEvent(t *testing.T) {
	ledger := newFakeLedger()
	gateway := newFakeGateway()
	notifier := &fakeNotifier{}
	engine := newTestEngine(ledger, gateway, notifier)

	payload, header := signedPayload("evt_1", "checkout.session.completed", 1_700_000_000, `{
		"id": "cs_1", "mode": "subscription", "subscription": "sub_1",
		"metadata": {"club_id": "club_a", "user_id": "user_1", "plan": "premium", "billing_cycle": "month"}
	}`)

	result, err := engine.Process(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Duplicate || result.Skipped {
		t.Fatalf("unexpected result flags: %+v", result)
	}

	rec := gateway.record("club_a")
	if rec == nil {
		t.Fatalf("no record written")
	}
	if rec.Status != models.SubscriptionStatusActive || rec.SourceEventID != "evt_1" {
		t.Fatalf("record wrong: %+v", rec)
	}
	if entry := ledger.entry("evt_1"); entry == nil || !entry.Applied() {
		t.Fatalf("ledger entry not marked applied: %+v", entry)
	}
	if notifier.count() != 1 {
		t.Fatalf("published %d actions, want 1", notifier.count())
	}
}

func TestEngineDuplicateDeliveryShortCircuits(t *testing.T) {
	ledger := newFakeLedger()
	gateway := newFakeGateway()
	engine := newTestEngine(ledger, gateway, nil)

	payload, header := signedPayload("evt_1", "checkout.session.completed", 1_700_000_000, `{
		"id": "cs_1", "mode": "subscription", "metadata": {"club_id": "club_a"}
	}`)

	if _, err := engine.Process(context.Background(), payload, header); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	result, err := engine.Process(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("replay must be reported as duplicate")
	}
	if gateway.applyCount() != 1 {
		t.Fatalf("record written %d times, want 1", gateway.applyCount())
	}
	if ledger.size() != 1 {
		t.Fatalf("ledger holds %d entries, want 1", ledger.size())
	}
}

func TestEngineOutOfOrderDeliveryConverges(t *testing.T) {
	ledger := newFakeLedger()
	gateway := newFakeGateway()
	engine := newTestEngine(ledger, gateway, nil)

	newer, newerHdr := signedPayload("evt_2", "customer.subscription.updated", 200, `{
		"id": "sub_1", "status": "active", "metadata": {"club_id": "club_a"},
		"current_period_start": 100, "current_period_end": 2000
	}`)
	older, olderHdr := signedPayload("evt_1", "customer.subscription.updated", 100, `{
		"id": "sub_1", "status": "past_due", "metadata": {"club_id": "club_a"},
		"current_period_start": 100, "current_period_end": 2000
	}`)

	if _, err := engine.Process(context.Background(), newer, newerHdr); err != nil {
		t.Fatalf("newer event failed: %v", err)
	}
	result, err := engine.Process(context.Background(), older, olderHdr)
	if err != nil {
		t.Fatalf("older event failed: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("stale event must be skipped")
	}

	rec := gateway.record("club_a")
	if rec.Status != models.SubscriptionStatusActive || rec.SourceEventID != "evt_2" {
		t.Fatalf("record regressed to stale state: %+v", rec)
	}
}

func TestEngineConcurrentUpdateAndDeleteConverge(t *testing.T) {
	ledger := newFakeLedger()
	gateway := newFakeGateway()
	engine := newTestEngine(ledger, gateway, nil)

	update, updateHdr := signedPayload("evt_upd", "customer.subscription.updated", 100, `{
		"id": "sub_1", "status": "active", "metadata": {"club_id": "club_a"},
		"current_period_start": 100, "current_period_end": 2000
	}`)
	cancel, cancelHdr := signedPayload("evt_del", "customer.subscription.deleted", 200, `{
		"id": "sub_1", "status": "canceled", "metadata": {"club_id": "club_a"}
	}`)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := engine.Process(context.Background(), update, updateHdr); err != nil {
			t.Errorf("update failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := engine.Process(context.Background(), cancel, cancelHdr); err != nil {
			t.Errorf("delete failed: %v", err)
		}
	}()
	wg.Wait()

	// Whichever interleaving won the lock, the newer deletion must prevail.
	rec := gateway.record("club_a")
	if rec == nil || rec.Status != models.SubscriptionStatusCancelled {
		t.Fatalf("record did not converge to cancelled: %+v", rec)
	}
	if rec.SourceEventID != "evt_del" {
		t.Fatalf("source event = %q, want evt_del", rec.SourceEventID)
	}
}

func TestEngineNormalizationErrorLeavesNoTrace(t *testing.T) {
	ledger := newFakeLedger()
	gateway := newFakeGateway()
	engine := newTestEngine(ledger, gateway, nil)

	// No club id anywhere and no resolver configured.
	payload, header := signedPayload("evt_1", "invoice.payment_failed", 100, `{
		"id": "in_1", "subscription": "sub_1", "amount_due": 4999, "currency": "eur"
	}`)

	_, err := engine.Process(context.Background(), payload, header)
	if !IsNormalization(err) {
		t.Fatalf("error = %v, want normalization error", err)
	}
	if ledger.size() != 0 {
		t.Fatalf("normalization failure must not reserve a ledger entry")
	}
	if gateway.applyCount() != 0 {
		t.Fatalf("normalization failure must not write a record")
	}
}

func TestEngineRejectsBadSignature(t *testing.T) {
	engine := newTestEngine(newFakeLedger(), newFakeGateway(), nil)

	payload, _ := signedPayload("evt_1", "checkout.session.completed", 100, `{"id": "cs_1"}`)
	_, err := engine.Process(context.Background(), payload, "t=123,v1=deadbeef")
	if !IsAuthentication(err) {
		t.Fatalf("error = %v, want authentication error", err)
	}

	_, err = engine.Process(context.Background(), payload, "")
	if !IsAuthentication(err) {
		t.Fatalf("missing header: error = %v, want authentication error", err)
	}
}

func TestEngineFailedEventIsRetriedOnRedelivery(t *testing.T) {
	ledger := newFakeLedger()
	gateway := newFakeGateway()
	gateway.failNext = []error{&FatalError{Err: errors.New("schema drift")}}
	engine := newTestEngine(ledger, gateway, nil)

	payload, header := signedPayload("evt_1", "customer.subscription.created", 100, `{
		"id": "sub_1", "status": "active", "metadata": {"club_id": "club_a"},
		"current_period_start": 100, "current_period_end": 2000
	}`)

	if _, err := engine.Process(context.Background(), payload, header); err == nil {
		t.Fatalf("expected the first delivery to fail")
	}
	entry := ledger.entry("evt_1")
	if entry == nil || entry.ProcessingError == "" {
		t.Fatalf("failed delivery must leave an error marker: %+v", entry)
	}

	// The provider redelivers; the failed entry is re-reserved and applied.
	result, err := engine.Process(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if result.Duplicate {
		t.Fatalf("redelivery of a failed event must not short-circuit")
	}
	if rec := gateway.record("club_a"); rec == nil || rec.Status != models.SubscriptionStatusActive {
		t.Fatalf("record not written on redelivery: %+v", rec)
	}
	if entry := ledger.entry("evt_1"); !entry.Applied() {
		t.Fatalf("ledger entry not marked applied after redelivery: %+v", entry)
	}
}

func TestEngineUnrecognizedEventIsAcknowledged(t *testing.T) {
	ledger := newFakeLedger()
	gateway := newFakeGateway()
	engine := newTestEngine(ledger, gateway, nil)

	payload, header := signedPayload("evt_1", "customer.created", 100, `{"id": "cus_1"}`)
	result, err := engine.Process(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("unrecognized event must be reported as skipped")
	}
	if gateway.applyCount() != 0 {
		t.Fatalf("unrecognized event must not touch the record store")
	}
	// Still recorded for audit, and a replay short-circuits.
	if entry := ledger.entry("evt_1"); entry == nil || !entry.Applied() {
		t.Fatalf("unrecognized event missing from the ledger: %+v", entry)
	}
	replay, err := engine.Process(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !replay.Duplicate {
		t.Fatalf("replay of an acknowledged event must be a duplicate")
	}
}
