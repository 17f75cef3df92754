package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"paystep/internal/checkout"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// dialHub spins up a test server that registers upgraded connections with the
// hub, then dials it.
func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Register <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForListeners blocks until the hub has registered n connections, so a
// broadcast cannot race the registration.
func waitForListeners(t *testing.T, hub *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		registered := len(hub.connections)
		hub.mu.Unlock()
		if registered >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never registered %d listeners", n)
}

func TestHub_BroadcastsOrderEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	go hub.Run()

	conn := dialHub(t, hub)
	waitForListeners(t, hub, 1)

	hub.PublishStatus(checkout.Order{
		ID:         "order-1",
		Status:     checkout.StatusPendingPayment,
		TotalCents: 2500,
		Currency:   "USD",
	}, checkout.StatusDraft)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var event OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.OrderID != "order-1" {
		t.Fatalf("order id = %q", event.OrderID)
	}
	if event.From != "draft" || event.To != "pending-payment" {
		t.Fatalf("transition = %q -> %q", event.From, event.To)
	}
	if event.TotalCents != 2500 || event.Currency != "USD" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestHub_DeliversToAllListeners(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	go hub.Run()

	first := dialHub(t, hub)
	second := dialHub(t, hub)
	waitForListeners(t, hub, 2)

	hub.PublishStatus(checkout.Order{ID: "order-2", Status: checkout.StatusCompleted}, checkout.StatusDraft)

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var event OrderEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if event.OrderID != "order-2" {
			t.Fatalf("order id = %q", event.OrderID)
		}
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	// No Run loop draining the channel; the buffer fills and overflow events
	// are dropped with a log line instead of blocking the checkout path.
	hub := NewHub()

	var mu sync.Mutex
	dropped := 0
	hub.logf = func(string, ...any) {
		mu.Lock()
		dropped++
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.PublishStatus(checkout.Order{ID: "order-flood"}, checkout.StatusDraft)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on full buffer")
	}

	mu.Lock()
	defer mu.Unlock()
	if dropped != 100-cap(hub.events) {
		t.Fatalf("dropped = %d, want %d", dropped, 100-cap(hub.events))
	}
}
