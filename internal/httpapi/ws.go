package httpapi

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"paystep/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// OrderEventsHandler upgrades the connection and registers it with the hub
// so the client receives order status transitions as they are persisted.
func OrderEventsHandler(hub *realtime.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade: %v", err)
			return
		}
		hub.Register <- conn

		// Drain reads until the client goes away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					hub.Unregister <- conn
					return
				}
			}
		}()
	})
}
