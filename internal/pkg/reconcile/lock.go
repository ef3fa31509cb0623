package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// ClubLocker serializes reconciliation per club id. Events for different
// clubs proceed in parallel; two events for the same club never interleave
// between read and write, which is what keeps the ordering gate sound.
type ClubLocker interface {
	Lock(ctx context.Context, clubID string) (func(), error)
}

const (
	clubLockPrefix = "clubsync:reconcile:club:"
	clubLockExpiry = 30 * time.Second
	clubLockTries  = 64
	clubLockDelay  = 250 * time.Millisecond
)

type redsyncLocker struct {
	rs *redsync.Redsync
}

// NewRedsyncLocker creates a Redis-backed distributed club lock, so the
// serialization guarantee holds across replicas of this service.
func NewRedsyncLocker(client *redis.Client) ClubLocker {
	pool := goredis.NewPool(client)
	return &redsyncLocker{rs: redsync.New(pool)}
}

func (l *redsyncLocker) Lock(ctx context.Context, clubID string) (func(), error) {
	mutex := l.rs.NewMutex(
		clubLockPrefix+clubID,
		redsync.WithExpiry(clubLockExpiry),
		redsync.WithTries(clubLockTries),
		redsync.WithRetryDelay(clubLockDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() {
		// Unlock on a fresh context: the processing context may already be
		// done and the lock must still be released.
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			log.Warnf("failed to unlock club %s: %v", clubID, err)
		}
	}, nil
}

type keyedMutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutexLocker creates an in-process per-club lock. Sufficient for a
// single replica and for tests.
func NewKeyedMutexLocker() ClubLocker {
	return &keyedMutexLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *keyedMutexLocker) Lock(_ context.Context, clubID string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[clubID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[clubID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}
