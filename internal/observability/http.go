package observability

import (
	"encoding/json"
	"net/http"
)

// Handler serves the metrics snapshot as JSON. Every request takes a fresh
// snapshot; the payload is small enough that no caching is warranted.
func Handler(metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metrics.Snapshot())
	})
}
