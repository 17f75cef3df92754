package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryGuard_FirstCallerAcquires(t *testing.T) {
	t.Parallel()

	guard := NewMemoryGuard(100*time.Millisecond, time.Second)
	res, err := guard.Reserve(context.Background(), "fp-1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !res.Acquired {
		t.Fatalf("expected first caller to acquire")
	}
}

func TestMemoryGuard_SecondCallerGetsFulfilledOrder(t *testing.T) {
	t.Parallel()

	guard := NewMemoryGuard(time.Second, time.Second)
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "fp-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	done := make(chan Reservation, 1)
	go func() {
		res, err := guard.Reserve(ctx, "fp-1")
		if err != nil {
			t.Errorf("second reserve: %v", err)
		}
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	if err := guard.Fulfill(ctx, "fp-1", "order-7"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	select {
	case res := <-done:
		if res.Acquired {
			t.Fatalf("second caller must not acquire")
		}
		if res.OrderID != "order-7" {
			t.Fatalf("second caller got order %q, want order-7", res.OrderID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second caller never returned")
	}
}

func TestMemoryGuard_ExactlyOneAcquirerUnderContention(t *testing.T) {
	t.Parallel()

	guard := NewMemoryGuard(500*time.Millisecond, time.Second)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	orderIDs := make(map[string]int)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := guard.Reserve(ctx, "fp-contended")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if res.Acquired {
				mu.Lock()
				acquired++
				mu.Unlock()
				// The winner does its "creation" and fulfills.
				if err := guard.Fulfill(ctx, "fp-contended", "order-win"); err != nil {
					t.Errorf("fulfill: %v", err)
				}
				return
			}
			mu.Lock()
			orderIDs[res.OrderID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("expected exactly one acquirer, got %d", acquired)
	}
	if len(orderIDs) != 1 || orderIDs["order-win"] != callers-1 {
		t.Fatalf("losers did not all see the winner's order: %v", orderIDs)
	}
}

func TestMemoryGuard_TimesOutWithoutFulfill(t *testing.T) {
	t.Parallel()

	guard := NewMemoryGuard(50*time.Millisecond, time.Minute)
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "fp-stuck"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := guard.Reserve(ctx, "fp-stuck")
	if !errors.Is(err, ErrReservationTimeout) {
		t.Fatalf("expected ErrReservationTimeout, got %v", err)
	}
}

func TestMemoryGuard_ReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	guard := NewMemoryGuard(100*time.Millisecond, time.Minute)
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "fp-release"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := guard.Release(ctx, "fp-release"); err != nil {
		t.Fatalf("release: %v", err)
	}

	res, err := guard.Reserve(ctx, "fp-release")
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if !res.Acquired {
		t.Fatalf("expected re-acquisition after release")
	}
}

func TestMemoryGuard_ExpiredClaimIsReclaimed(t *testing.T) {
	t.Parallel()

	guard := NewMemoryGuard(100*time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "fp-ttl"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	res, err := guard.Reserve(ctx, "fp-ttl")
	if err != nil {
		t.Fatalf("reserve after ttl: %v", err)
	}
	if !res.Acquired {
		t.Fatalf("expected expired claim to be reclaimed")
	}
}

func TestMemoryGuard_FulfilledReservationSurvivesRelease(t *testing.T) {
	t.Parallel()

	guard := NewMemoryGuard(100*time.Millisecond, time.Minute)
	ctx := context.Background()

	if _, err := guard.Reserve(ctx, "fp-keep"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := guard.Fulfill(ctx, "fp-keep", "order-9"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if err := guard.Release(ctx, "fp-keep"); err != nil {
		t.Fatalf("release: %v", err)
	}

	res, err := guard.Reserve(ctx, "fp-keep")
	if err != nil {
		t.Fatalf("reserve after fulfill: %v", err)
	}
	if res.Acquired || res.OrderID != "order-9" {
		t.Fatalf("fulfilled mapping lost: %+v", res)
	}
}

func TestMemoryGuard_RespectsCanceledContext(t *testing.T) {
	t.Parallel()

	guard := NewMemoryGuard(time.Second, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := guard.Reserve(ctx, "fp-cancel"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
