package models

import "time"

const (
	BillingCycleMonth   = "month"
	BillingCycleYear    = "year"
	BillingCycleUnknown = "unknown"
)

const (
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCancelled  = "cancelled"
)

// SubscriptionRecord is the reconciled subscription state for a club. One
// record per club id; provider subscription deletion transitions the record
// to cancelled instead of removing it, so the audit history survives.
type SubscriptionRecord struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ClubID             string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscription_records_club" json:"club_id"`
	UserID             string    `gorm:"type:varchar(191);not null;default:'';index" json:"user_id"`
	SubscriptionID     string    `gorm:"type:varchar(191);not null;default:'';index" json:"subscription_id"`
	Plan               string    `gorm:"type:varchar(100);not null;default:''" json:"plan"`
	BillingCycle       string    `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_cycle"`
	Status             string    `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodStart time.Time `gorm:"type:timestamp;default:null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time `gorm:"type:timestamp;default:null" json:"current_period_end"`
	CancelAtPeriodEnd  bool      `gorm:"default:false" json:"cancel_at_period_end"`
	// SourceEventID and SourceEventTime identify the provider event that
	// produced the current state. The ordering gate in the reconciler
	// compares incoming provider timestamps against SourceEventTime.
	SourceEventID   string    `gorm:"type:varchar(191);not null;default:''" json:"source_event_id"`
	SourceEventTime time.Time `gorm:"type:timestamp;default:null;index" json:"source_event_time"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
