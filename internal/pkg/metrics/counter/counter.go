package counter

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/clubsync/clubsync/internal/pkg/cache"
)

// Processing outcomes tracked per provider event type. Counters live in
// Redis hashes (field = provider event type) so every replica increments the
// same numbers.
const (
	receivedKey  = "webhook:counters:received"
	appliedKey   = "webhook:counters:applied"
	duplicateKey = "webhook:counters:duplicate"
	skippedKey   = "webhook:counters:skipped"
	failedKey    = "webhook:counters:failed"
)

// AddReceived increments the received counter for an event type.
func AddReceived(eventType string) error {
	return incr(receivedKey, eventType)
}

// AddApplied increments the applied counter for an event type.
func AddApplied(eventType string) error {
	return incr(appliedKey, eventType)
}

// AddDuplicate increments the duplicate-delivery counter for an event type.
func AddDuplicate(eventType string) error {
	return incr(duplicateKey, eventType)
}

// AddSkipped increments the stale/unrecognized counter for an event type.
func AddSkipped(eventType string) error {
	return incr(skippedKey, eventType)
}

// AddFailed increments the failure counter for an event type.
func AddFailed(eventType string) error {
	return incr(failedKey, eventType)
}

func incr(key, eventType string) error {
	if eventType == "" {
		eventType = "unknown"
	}
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, key, eventType, 1).Err()
}

// Snapshot returns all counters grouped by outcome, then event type.
func Snapshot() (map[string]map[string]int64, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	out := make(map[string]map[string]int64, 5)
	keys := map[string]string{
		"received":  receivedKey,
		"applied":   appliedKey,
		"duplicate": duplicateKey,
		"skipped":   skippedKey,
		"failed":    failedKey,
	}
	for name, key := range keys {
		data, err := rdb.HGetAll(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		counts := make(map[string]int64, len(data))
		for field, v := range data {
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				continue
			}
			counts[field] = n
		}
		out[name] = counts
	}
	return out, nil
}
