// Package session holds the Redis-backed session attempt counter and the
// Redis reservation guard used by multi-instance deployments.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	attemptKeyPrefix     = "checkout:attempt:"
	reservationKeyPrefix = "checkout:reservation:"
)

// RedisStore tracks per-session checkout attempt counters in Redis.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore. ttl bounds how long an idle
// session's counter survives; zero means no expiry.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Attempt returns the session's current attempt number, initializing it to 1
// on first use. Concurrent first calls may both initialize; they observe the
// same attempt, which is exactly what the fingerprint needs.
func (s *RedisStore) Attempt(ctx context.Context, sessionID string) (int64, error) {
	key := attemptKeyPrefix + sessionID

	attempt, err := s.client.Get(ctx, key).Int64()
	if err == nil {
		return attempt, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("get attempt: %w", err)
	}

	if err := s.client.SetNX(ctx, key, 1, s.ttl).Err(); err != nil {
		return 0, fmt.Errorf("init attempt: %w", err)
	}
	attempt, err = s.client.Get(ctx, key).Int64()
	if err != nil {
		return 0, fmt.Errorf("reread attempt: %w", err)
	}
	return attempt, nil
}

// AdvanceAttempt moves the session to the next attempt after a successful
// checkout.
func (s *RedisStore) AdvanceAttempt(ctx context.Context, sessionID string) error {
	key := attemptKeyPrefix + sessionID
	if err := s.client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("advance attempt: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire attempt: %w", err)
		}
	}
	return nil
}
