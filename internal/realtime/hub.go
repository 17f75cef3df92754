// Package realtime fans order status transitions out to WebSocket listeners
// (storefront admin screens, dashboards).
package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paystep/internal/checkout"
)

// OrderEvent is the wire form of one status transition.
type OrderEvent struct {
	OrderID    string    `json:"order_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	TotalCents int64     `json:"total_cents"`
	Currency   string    `json:"currency"`
	At         time.Time `json:"at"`
}

// Hub manages WebSocket clients and broadcasts order events to them.
type Hub struct {
	mu          sync.Mutex
	connections map[*websocket.Conn]struct{}

	Register   chan *websocket.Conn
	Unregister chan *websocket.Conn
	events     chan OrderEvent
	logf       func(format string, args ...any)
}

// NewHub constructs a Hub. The event channel is buffered so publishers never
// block on slow listeners; overflow events are dropped and logged.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		events:      make(chan OrderEvent, 64),
		logf:        log.Printf,
	}
}

// PublishStatus implements checkout.EventPublisher without blocking the
// checkout path.
func (h *Hub) PublishStatus(order checkout.Order, previous checkout.Status) {
	event := OrderEvent{
		OrderID:    order.ID,
		From:       string(previous),
		To:         string(order.Status),
		TotalCents: order.TotalCents,
		Currency:   order.Currency,
		At:         time.Now().UTC(),
	}
	select {
	case h.events <- event:
	default:
		h.logf("realtime: dropping order event for %s (slow listeners)", order.ID)
	}
}

// Run processes register/unregister/broadcast events until the channels close.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.Register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.Unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case event := <-h.events:
			payload, err := json.Marshal(event)
			if err != nil {
				h.logf("realtime: marshal event: %v", err)
				continue
			}
			h.mu.Lock()
			for conn := range h.connections {
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}
