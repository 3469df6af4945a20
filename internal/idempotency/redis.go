// Package idempotency provides the at-most-once guard for settlement requests
// that carry a caller-supplied idempotency token.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "settle:idem:"
	// DefaultTTL bounds how long a token is remembered.
	DefaultTTL = 24 * time.Hour

	pendingValue = "pending"
)

// releaseScript drops a claim only while it is still pending, so a late
// release can never erase a completed request.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisGuard remembers idempotency tokens in Redis.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{client: client, ttl: ttl}
}

// Claim records key as in flight. It returns false when key was already claimed or completed.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, pendingValue, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return ok, nil
}

// Complete stores the outcome reference (for example the sale id) for a claimed key.
func (g *RedisGuard) Complete(ctx context.Context, key, result string) error {
	if err := g.client.Set(ctx, keyPrefix+key, result, g.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	return nil
}

// Release forgets a pending claim so the request can be retried.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, g.client, []string{keyPrefix + key}, pendingValue).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Lookup returns the stored outcome for key, "" if none, or "pending" while in flight.
func (g *RedisGuard) Lookup(ctx context.Context, key string) (string, error) {
	v, err := g.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return v, nil
}

// IsPending reports whether a Lookup result means the request is still in flight.
func IsPending(v string) bool {
	return v == pendingValue
}
