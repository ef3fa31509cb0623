package reconcile

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"bad connection", driver.ErrBadConn, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"wrapped connection reset", fmt.Errorf("write failed: %w", syscall.ECONNRESET), true},
		{"network timeout", timeoutErr{}, true},
		{"deadlock", &mysqldrv.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{"lock wait timeout", &mysqldrv.MySQLError{Number: 1205, Message: "Lock wait timeout"}, true},
		{"too many connections", &mysqldrv.MySQLError{Number: 1040, Message: "Too many connections"}, true},
		{"access denied", &mysqldrv.MySQLError{Number: 1045, Message: "Access denied"}, false},
		{"unknown column", &mysqldrv.MySQLError{Number: 1054, Message: "Unknown column"}, false},
		{"plain error", errors.New("constraint violation"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Fatalf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyWrapsIntoTaxonomy(t *testing.T) {
	if err := classify(nil); err != nil {
		t.Fatalf("classify(nil) = %v, want nil", err)
	}
	if err := classify(context.DeadlineExceeded); !IsTransient(err) {
		t.Fatalf("deadline must classify as transient, got %v", err)
	}
	var fatal *FatalError
	if err := classify(errors.New("boom")); !errors.As(err, &fatal) {
		t.Fatalf("plain error must classify as fatal, got %v", err)
	}
}

func TestWithRetryRecoversFromTransientFailures(t *testing.T) {
	cfg := RetryConfig{Attempts: 3, BackoffBase: time.Millisecond, AttemptTimeout: time.Second}

	calls := 0
	err := withRetry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("op called %d times, want 3", calls)
	}
}

func TestWithRetryFatalFailsImmediately(t *testing.T) {
	cfg := RetryConfig{Attempts: 3, BackoffBase: time.Millisecond, AttemptTimeout: time.Second}

	calls := 0
	err := withRetry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errors.New("constraint violation")
	})
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("error = %v, want *FatalError", err)
	}
	if calls != 1 {
		t.Fatalf("fatal error must not be retried, op called %d times", calls)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	cfg := RetryConfig{Attempts: 3, BackoffBase: time.Millisecond, AttemptTimeout: time.Second}

	calls := 0
	err := withRetry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if calls != 3 {
		t.Fatalf("op called %d times, want 3", calls)
	}
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("exhausted budget must surface as *FatalError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("exhaustion error must wrap the last attempt's cause: %v", err)
	}
}

func TestWithRetryStopsWhenCallerGivesUp(t *testing.T) {
	cfg := RetryConfig{Attempts: 5, BackoffBase: time.Minute, AttemptTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// Cancel while withRetry sits in the first backoff.
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := withRetry(ctx, cfg, func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if calls != 1 {
		t.Fatalf("op called %d times, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want wrapped context.Canceled", err)
	}
}
