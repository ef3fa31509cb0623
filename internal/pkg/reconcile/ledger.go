package reconcile

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clubsync/clubsync/app/models"
)

// ReservationStatus is the outcome of a check-and-reserve.
type ReservationStatus int

const (
	// ReservationFresh means this caller owns the event and must reconcile it.
	ReservationFresh ReservationStatus = iota
	// ReservationDuplicate means the event was already applied or is being
	// handled by a concurrent delivery; the caller acknowledges and stops.
	ReservationDuplicate
)

type Reservation struct {
	Status  ReservationStatus
	EntryID uint
}

// Ledger records which provider event ids have been applied. The reserve is
// atomic across concurrent deliveries of the same event id, independent of
// any per-club locking.
type Ledger interface {
	CheckAndReserve(ctx context.Context, ev *DomainEvent) (Reservation, error)
	MarkApplied(ctx context.Context, entryID uint) error
	MarkFailed(ctx context.Context, entryID uint, cause error) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type gormLedger struct {
	db *gorm.DB
}

// NewLedger creates the GORM-backed ledger. The unique index on event_id
// makes the conditional insert itself the reservation.
func NewLedger(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

func (l *gormLedger) CheckAndReserve(ctx context.Context, ev *DomainEvent) (Reservation, error) {
	entry := &models.WebhookEvent{
		EventID:      ev.ID,
		EventType:    ev.Kind.String(),
		ClubID:       ev.ClubID,
		ProviderTime: ev.OccurredAt,
	}
	tx := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return Reservation{}, classify(tx.Error)
	}
	if tx.RowsAffected > 0 {
		return Reservation{Status: ReservationFresh, EntryID: entry.ID}, nil
	}

	var stored models.WebhookEvent
	if err := l.db.WithContext(ctx).Where("event_id = ?", ev.ID).First(&stored).Error; err != nil {
		return Reservation{}, classify(err)
	}
	if stored.Applied() {
		return Reservation{Status: ReservationDuplicate, EntryID: stored.ID}, nil
	}
	if stored.ProcessingError != "" {
		// A previous attempt failed after reservation. Re-reserve with a
		// conditional update so exactly one redelivery retries.
		res := l.db.WithContext(ctx).Model(&models.WebhookEvent{}).
			Where("id = ? AND processing_error <> ''", stored.ID).
			Updates(map[string]interface{}{"processing_error": "", "processed_at": nil})
		if res.Error != nil {
			return Reservation{}, classify(res.Error)
		}
		if res.RowsAffected > 0 {
			return Reservation{Status: ReservationFresh, EntryID: stored.ID}, nil
		}
	}
	// Reserved but not yet finished: another delivery is in flight.
	return Reservation{Status: ReservationDuplicate, EntryID: stored.ID}, nil
}

func (l *gormLedger) MarkApplied(ctx context.Context, entryID uint) error {
	now := time.Now()
	err := l.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{"processed_at": &now, "processing_error": ""}).Error
	if err != nil {
		return classify(err)
	}
	return nil
}

func (l *gormLedger) MarkFailed(ctx context.Context, entryID uint, cause error) error {
	now := time.Now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := l.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{"processed_at": &now, "processing_error": msg}).Error
	if err != nil {
		return classify(err)
	}
	return nil
}

func (l *gormLedger) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processing_error = '' AND created_at < ?", cutoff).
		Delete(&models.WebhookEvent{})
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	return res.RowsAffected, nil
}

// StartLedgerPruner deletes applied ledger entries older than the replay
// window. Entries inside the window stay so provider redeliveries keep
// short-circuiting; re-processing an expired entry is still safe because the
// reconciler's ordering gate rejects stale state.
func StartLedgerPruner(ctx context.Context, ledger Ledger, replayWindow, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := ledger.PruneBefore(ctx, time.Now().Add(-replayWindow))
				if err != nil {
					log.Warnf("ledger prune failed: %v", err)
					continue
				}
				if n > 0 {
					log.Infof("pruned %d ledger entries older than %s", n, replayWindow)
				}
			}
		}
	}()
}
