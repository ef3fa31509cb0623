package reconcile

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ActionType names the downstream state change a consumer should perform.
type ActionType string

const (
	ActionCreateSubscription       ActionType = "create_subscription"
	ActionUpdateSubscription       ActionType = "update_subscription"
	ActionCancelSubscription       ActionType = "cancel_subscription"
	ActionUpdateSubscriptionStatus ActionType = "update_subscription_status"
	ActionUpdatePaymentStatus      ActionType = "update_payment_status"
	ActionRecordPayment            ActionType = "record_payment"
)

// Action is the structured descriptor handed to consumers that do not share
// the datastore. The ID lets consumers de-duplicate on their side; EventID
// ties the action back to the provider event for audit.
type Action struct {
	ID             string     `json:"id"`
	Type           ActionType `json:"type"`
	ClubID         string     `json:"club_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Plan           string     `json:"plan,omitempty"`
	BillingCycle   string     `json:"billing_cycle,omitempty"`
	Status         string     `json:"status,omitempty"`
	AmountMinor    int64      `json:"amount_minor,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	EventID        string     `json:"event_id"`
}

func newAction(t ActionType, ev *DomainEvent, status string) *Action {
	return &Action{
		ID:             uuid.NewString(),
		Type:           t,
		ClubID:         ev.ClubID,
		UserID:         ev.UserID,
		SubscriptionID: ev.SubscriptionID,
		Plan:           ev.Plan,
		BillingCycle:   ev.BillingCycle,
		Status:         status,
		AmountMinor:    ev.AmountMinor,
		Currency:       ev.Currency,
		EventID:        ev.ID,
	}
}

// ActionNotifier publishes action descriptors for external consumers.
type ActionNotifier interface {
	Publish(ctx context.Context, action *Action) error
}

// ActionsChannel is the pub/sub channel action descriptors are published on.
const ActionsChannel = "clubsync.actions"

type redisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier publishes actions on a Redis pub/sub channel.
func NewRedisNotifier(client *redis.Client) ActionNotifier {
	return &redisNotifier{client: client}
}

func (n *redisNotifier) Publish(ctx context.Context, action *Action) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, ActionsChannel, payload).Err()
}
