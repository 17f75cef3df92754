package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPRateLimiter_BurstPassesWithoutWaiting(t *testing.T) {
	t.Parallel()

	limiter := newHTTPRateLimiter(time.Second, 3, nil)
	limiter.sleep = func(context.Context, time.Duration) error {
		t.Fatalf("burst requests must not sleep")
		return nil
	}

	for i := 0; i < 3; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestHTTPRateLimiter_WaitsWhenExhausted(t *testing.T) {
	t.Parallel()

	current := time.Unix(0, 0)
	var waited time.Duration

	limiter := newHTTPRateLimiter(100*time.Millisecond, 1, func(d time.Duration) { waited += d })
	limiter.now = func() time.Time { return current }
	limiter.last = current
	limiter.sleep = func(_ context.Context, d time.Duration) error {
		current = current.Add(d)
		return nil
	}

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if waited == 0 {
		t.Fatalf("exhausted limiter must report waits")
	}
}

func TestHTTPRateLimiter_RefillsOverTime(t *testing.T) {
	t.Parallel()

	current := time.Unix(0, 0)
	limiter := newHTTPRateLimiter(100*time.Millisecond, 2, nil)
	limiter.now = func() time.Time { return current }
	limiter.last = current
	limiter.tokens = 0

	current = current.Add(250 * time.Millisecond)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("wait after refill: %v", err)
	}
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("second wait after refill: %v", err)
	}
	if limiter.tokens != 0 {
		t.Fatalf("tokens = %d, want 0", limiter.tokens)
	}
}

func TestHTTPRateLimiter_CanceledContext(t *testing.T) {
	t.Parallel()

	limiter := newHTTPRateLimiter(time.Hour, 1, nil)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatalf("expected error on canceled context")
	}
}

func TestRateLimitMiddleware_RejectsWhenQueueDrops(t *testing.T) {
	t.Parallel()

	limiter := newHTTPRateLimiter(time.Hour, 1, nil)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	handler := rateLimitMiddleware(limiter, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("request must not pass an exhausted limiter")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRateLimitMiddleware_PassesThrough(t *testing.T) {
	t.Parallel()

	called := false
	handler := rateLimitMiddleware(nil, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatalf("middleware swallowed the request")
	}
}
