package reconcile

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clubsync/clubsync/app/models"
)

// RetryConfig bounds the persistence retry loop.
type RetryConfig struct {
	Attempts       int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
}

// Gateway reads and writes reconciled subscription records. Apply is a
// single atomic merge-upsert; transient failures are retried with bounded
// exponential backoff, fatal ones surface immediately.
type Gateway interface {
	Current(ctx context.Context, clubID string) (*models.SubscriptionRecord, error)
	Apply(ctx context.Context, clubID string, next *models.SubscriptionRecord) error
}

type gormGateway struct {
	db  *gorm.DB
	cfg RetryConfig
}

// NewGateway creates the GORM-backed persistence gateway.
func NewGateway(db *gorm.DB, cfg RetryConfig) Gateway {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}
	return &gormGateway{db: db, cfg: cfg}
}

func (g *gormGateway) Current(ctx context.Context, clubID string) (*models.SubscriptionRecord, error) {
	var record *models.SubscriptionRecord
	err := withRetry(ctx, g.cfg, func(ctx context.Context) error {
		var r models.SubscriptionRecord
		err := g.db.WithContext(ctx).Where("club_id = ?", clubID).First(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = nil
			return nil
		}
		if err != nil {
			return err
		}
		record = &r
		return nil
	})
	return record, err
}

// subscriptionRecordColumns are the fields a reconciliation may overwrite.
// Columns outside this list survive the upsert untouched (merge semantics).
var subscriptionRecordColumns = []string{
	"user_id",
	"subscription_id",
	"plan",
	"billing_cycle",
	"status",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"source_event_id",
	"source_event_time",
	"updated_at",
}

func (g *gormGateway) Apply(ctx context.Context, clubID string, next *models.SubscriptionRecord) error {
	next.ClubID = clubID
	return withRetry(ctx, g.cfg, func(ctx context.Context) error {
		row := *next
		row.ID = 0
		return g.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "club_id"}},
			DoUpdates: clause.AssignmentColumns(subscriptionRecordColumns),
		}).Create(&row).Error
	})
}

// withRetry runs op under a per-attempt timeout, retrying transient errors
// with exponential backoff. An exhausted retry budget converts to
// FatalError so the caller fails the delivery and the provider redelivers.
func withRetry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			backoff := cfg.BackoffBase << (attempt - 1)
			log.Warnf("persistence attempt %d/%d failed, retrying in %s: %v", attempt, cfg.Attempts, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &FatalError{Err: ctx.Err()}
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		if !retryable(err) {
			return &FatalError{Err: err}
		}
	}
	return &FatalError{Err: fmt.Errorf("retry budget exhausted after %d attempts: %w", cfg.Attempts, lastErr)}
}

// classify wraps a datastore error into the transient/fatal taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if retryable(err) {
		return &TransientError{Err: err}
	}
	return &FatalError{Err: err}
}

// retryable reports whether a persistence error is worth another attempt:
// connectivity blips and server-side pressure are, permission, schema and
// programmer errors are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var mysqlErr *mysqldrv.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1040, // too many connections
			1053, // server shutdown in progress
			1205, // lock wait timeout
			1213, // deadlock, loser retries with a fresh read
			2006, // server has gone away
			2013: // lost connection during query
			return true
		}
		return false
	}
	return false
}
