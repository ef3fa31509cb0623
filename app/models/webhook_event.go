package models

import "time"

// WebhookEvent is the idempotency ledger entry for one provider event id.
// The unique index on EventID makes the conditional insert the reservation:
// whichever concurrent delivery creates the row owns the reconciliation.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventID         string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_event" json:"event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ClubID          string     `gorm:"type:varchar(191);not null;default:'';index" json:"club_id"`
	ProviderTime    time.Time  `gorm:"type:timestamp;default:null" json:"provider_time"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Applied reports whether this entry represents a completed reconciliation.
// Entries with a processing error are retryable on redelivery.
func (e *WebhookEvent) Applied() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
