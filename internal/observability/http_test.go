package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandler_ServesSnapshot(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.Start("checkout").End(nil)
	m.OrderCreated()

	rec := httptest.NewRecorder()
	Handler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TotalRequests != 1 {
		t.Fatalf("total requests = %d, want 1", snap.TotalRequests)
	}
	if snap.Checkout.OrdersCreated != 1 {
		t.Fatalf("orders created = %d, want 1", snap.Checkout.OrdersCreated)
	}
}
