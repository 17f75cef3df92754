package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"paystep/internal/checkout"
)

// releaseScript deletes a reservation only while it is still unfulfilled, so
// a Release racing a Fulfill cannot drop the order mapping.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == "" then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard is a Redis-backed checkout.Guard. SETNX on the fingerprint key
// is the atomic claim; the key's TTL is the reservation expiry.
type RedisGuard struct {
	client     redis.UniversalClient
	waitBudget time.Duration
	ttl        time.Duration
	pollEvery  time.Duration
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// NewRedisGuard constructs a RedisGuard. waitBudget bounds how long
// non-acquiring callers wait; ttl bounds how long a reservation lives.
func NewRedisGuard(client redis.UniversalClient, waitBudget, ttl time.Duration) *RedisGuard {
	if waitBudget <= 0 {
		waitBudget = 300 * time.Millisecond
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisGuard{
		client:     client,
		waitBudget: waitBudget,
		ttl:        ttl,
		pollEvery:  25 * time.Millisecond,
		now:        time.Now,
		sleep:      sleepWithContext,
	}
}

// Reserve claims the fingerprint or waits briefly for the owner's order id.
func (g *RedisGuard) Reserve(ctx context.Context, fingerprint string) (checkout.Reservation, error) {
	key := reservationKeyPrefix + fingerprint
	deadline := g.now().Add(g.waitBudget)

	for {
		if err := ctx.Err(); err != nil {
			return checkout.Reservation{}, err
		}

		acquired, err := g.client.SetNX(ctx, key, "", g.ttl).Result()
		if err != nil {
			return checkout.Reservation{}, err
		}
		if acquired {
			return checkout.Reservation{Acquired: true}, nil
		}

		val, err := g.client.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Expired or released between SETNX and GET; try again.
				continue
			}
			return checkout.Reservation{}, err
		}
		if val != "" {
			return checkout.Reservation{OrderID: val}, nil
		}

		if g.now().Add(g.pollEvery).After(deadline) {
			return checkout.Reservation{}, checkout.ErrReservationTimeout
		}
		if err := g.sleep(ctx, g.pollEvery); err != nil {
			return checkout.Reservation{}, err
		}
	}
}

// Fulfill records the created order id under the reservation key, keeping the
// TTL so the mapping eventually expires on its own.
func (g *RedisGuard) Fulfill(ctx context.Context, fingerprint, orderID string) error {
	return g.client.Set(ctx, reservationKeyPrefix+fingerprint, orderID, g.ttl).Err()
}

// Release drops an unfulfilled claim so the fingerprint can be re-acquired.
func (g *RedisGuard) Release(ctx context.Context, fingerprint string) error {
	return releaseScript.Run(ctx, g.client, []string{reservationKeyPrefix + fingerprint}).Err()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
