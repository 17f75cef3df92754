package checkout

import (
	"context"
	"sync"
	"time"
)

// Reservation is the outcome of claiming a fingerprint. Exactly one caller
// per fingerprint gets Acquired=true and owns order creation; everyone else
// gets the order id the acquirer produced.
type Reservation struct {
	Acquired bool
	OrderID  string
}

// Guard serializes order creation per fingerprint.
type Guard interface {
	// Reserve claims the fingerprint or waits briefly for the current owner
	// to produce an order. Returns ErrReservationTimeout when the wait
	// budget runs out before an order id appears.
	Reserve(ctx context.Context, fingerprint string) (Reservation, error)
	// Fulfill records the order created under an acquired reservation.
	Fulfill(ctx context.Context, fingerprint, orderID string) error
	// Release abandons an acquired reservation that produced no order, so a
	// later submission with the same fingerprint can acquire afresh.
	Release(ctx context.Context, fingerprint string) error
}

type memReservation struct {
	orderID   string
	done      chan struct{}
	claimedAt time.Time
}

// MemoryGuard is an in-process Guard keyed by fingerprint. Suitable for a
// single instance and for tests; multi-instance deployments use the Redis or
// Postgres reservation stores.
type MemoryGuard struct {
	mu         sync.Mutex
	entries    map[string]*memReservation
	waitBudget time.Duration
	ttl        time.Duration
	now        func() time.Time
}

// NewMemoryGuard constructs a MemoryGuard. waitBudget bounds how long
// non-acquiring callers wait for the order id; ttl bounds how long an
// unfulfilled claim blocks re-acquisition.
func NewMemoryGuard(waitBudget, ttl time.Duration) *MemoryGuard {
	if waitBudget <= 0 {
		waitBudget = 300 * time.Millisecond
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryGuard{
		entries:    make(map[string]*memReservation),
		waitBudget: waitBudget,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (g *MemoryGuard) Reserve(ctx context.Context, fingerprint string) (Reservation, error) {
	deadline := g.now().Add(g.waitBudget)

	for {
		if err := ctx.Err(); err != nil {
			return Reservation{}, err
		}

		g.mu.Lock()
		entry, ok := g.entries[fingerprint]
		if ok && entry.orderID == "" && g.now().Sub(entry.claimedAt) > g.ttl {
			// The previous owner went away without fulfilling; reclaim.
			delete(g.entries, fingerprint)
			ok = false
		}
		if !ok {
			g.entries[fingerprint] = &memReservation{
				done:      make(chan struct{}),
				claimedAt: g.now(),
			}
			g.mu.Unlock()
			return Reservation{Acquired: true}, nil
		}
		if entry.orderID != "" {
			id := entry.orderID
			g.mu.Unlock()
			return Reservation{OrderID: id}, nil
		}
		done := entry.done
		g.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Reservation{}, ErrReservationTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Reservation{}, ctx.Err()
		case <-timer.C:
			return Reservation{}, ErrReservationTimeout
		case <-done:
			timer.Stop()
			// Owner fulfilled or released; loop to pick up the outcome.
		}
	}
}

func (g *MemoryGuard) Fulfill(_ context.Context, fingerprint, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[fingerprint]
	if !ok {
		g.entries[fingerprint] = &memReservation{
			orderID:   orderID,
			done:      closedChan(),
			claimedAt: g.now(),
		}
		return nil
	}
	if entry.orderID == "" {
		entry.orderID = orderID
		close(entry.done)
	}
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, fingerprint string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.entries[fingerprint]
	if !ok || entry.orderID != "" {
		return nil
	}
	delete(g.entries, fingerprint)
	close(entry.done)
	return nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
