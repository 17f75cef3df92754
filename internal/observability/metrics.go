package observability

import (
	"sync"
	"time"
)

type OperationSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type CheckoutSnapshot struct {
	OrdersCreated       int64 `json:"orders_created"`
	DuplicatesCoalesced int64 `json:"duplicates_coalesced"`
	ValidationFailures  int64 `json:"validation_failures"`
	ReservationTimeouts int64 `json:"reservation_timeouts"`
}

type Snapshot struct {
	UptimeSec       int64                        `json:"uptime_sec"`
	TotalRequests   int64                        `json:"total_requests"`
	TotalErrors     int64                        `json:"total_errors"`
	InFlight        int64                        `json:"in_flight"`
	RateLimitWaits  int64                        `json:"rate_limit_waits"`
	RateLimitWaitMs int64                        `json:"rate_limit_wait_ms"`
	Checkout        CheckoutSnapshot             `json:"checkout"`
	Operations      map[string]OperationSnapshot `json:"operations"`
}

type operationStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type checkoutStats struct {
	ordersCreated       int64
	duplicatesCoalesced int64
	validationFailures  int64
	reservationTimeouts int64
}

// Metrics aggregates per-operation latencies plus checkout counters. It
// implements checkout.Stats.
type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	operations     map[string]*operationStats
	rateLimitWaits int64
	rateLimitWait  time.Duration
	checkout       checkoutStats
}

type CallSpan struct {
	metrics   *Metrics
	operation string
	start     time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:      time.Now(),
		operations: make(map[string]*operationStats),
	}
}

func (m *Metrics) Start(operation string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureOperation(operation)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics:   m,
		operation: operation,
		start:     time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.operation, dur, err != nil)
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

func (m *Metrics) OrderCreated() {
	m.addCheckout(func(c *checkoutStats) { c.ordersCreated++ })
}

func (m *Metrics) DuplicateCoalesced() {
	m.addCheckout(func(c *checkoutStats) { c.duplicatesCoalesced++ })
}

func (m *Metrics) ValidationFailed() {
	m.addCheckout(func(c *checkoutStats) { c.validationFailures++ })
}

func (m *Metrics) ReservationTimedOut() {
	m.addCheckout(func(c *checkoutStats) { c.reservationTimeouts++ })
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Operations:      make(map[string]OperationSnapshot),
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
		Checkout: CheckoutSnapshot{
			OrdersCreated:       m.checkout.ordersCreated,
			DuplicatesCoalesced: m.checkout.duplicatesCoalesced,
			ValidationFailures:  m.checkout.validationFailures,
			ReservationTimeouts: m.checkout.reservationTimeouts,
		},
	}

	for operation, stats := range m.operations {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Operations[operation] = OperationSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	return snap
}

func (m *Metrics) addCheckout(fn func(*checkoutStats)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	fn(&m.checkout)
	m.mu.Unlock()
}

func (m *Metrics) ensureOperation(operation string) *operationStats {
	stats, ok := m.operations[operation]
	if !ok {
		stats = &operationStats{}
		m.operations[operation] = stats
	}
	return stats
}

func (m *Metrics) finish(operation string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureOperation(operation)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}
