// Package httpapi implements the HTTP transport for the checkout
// orchestrator: it parses submissions, performs the redirect the
// orchestrator decides, and renders errors. No checkout rules live here.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"paystep/internal/checkout"
)

// SessionCookie carries the storefront session id.
const SessionCookie = "cart_session"

// billingFieldPrefix is how billing fields arrive in the form payload
// (billing_email, billing_first_name, ...).
const billingFieldPrefix = "billing_"

type orchestrator interface {
	Checkout(ctx context.Context, sessionID string, profile checkout.BillingProfile) (checkout.RedirectDecision, error)
	CompletePayment(ctx context.Context, orderID, paymentMethod string) (checkout.Order, error)
}

// CallRecorder is the observability surface the handler reports into.
type CallRecorder interface {
	Start(operation string) Span
}

// Span ends one recorded call.
type Span interface {
	End(err error)
}

// Handler serves the checkout endpoints.
type Handler struct {
	orchestrator   orchestrator
	recorder       CallRecorder
	requestTimeout time.Duration
}

// New returns a Handler over the given orchestrator.
//
// It panics if orchestrator is nil. If requestTimeout is non-positive, a
// default is applied. recorder may be nil.
func New(orch orchestrator, recorder CallRecorder, requestTimeout time.Duration) *Handler {
	if orch == nil {
		panic("httpapi.New: nil orchestrator")
	}
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	return &Handler{
		orchestrator:   orch,
		recorder:       recorder,
		requestTimeout: requestTimeout,
	}
}

// HandleCheckout processes a checkout submission.
//
// The request must be a POST with form-encoded billing fields (billing_*)
// and a session id (cookie or session_id field). On success the buyer is
// redirected (303) to the destination the orchestrator decided; clients
// sending Accept: application/json get the decision as JSON instead.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "bad_request", Message: "invalid form payload"})
		return
	}

	sessionID := sessionIDFrom(r)
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "bad_request", Message: "missing session id"})
		return
	}

	profile := make(checkout.BillingProfile)
	for name, values := range r.PostForm {
		if !strings.HasPrefix(name, billingFieldPrefix) || len(values) == 0 {
			continue
		}
		profile[strings.TrimPrefix(name, billingFieldPrefix)] = values[0]
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	span := h.startSpan("checkout")
	decision, err := h.orchestrator.Checkout(ctx, sessionID, profile)
	span.End(err)
	if err != nil {
		writeError(w, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, redirectResponse{
			Destination: string(decision.Destination),
			URL:         decision.URL,
		})
		return
	}
	http.Redirect(w, r, decision.URL, http.StatusSeeOther)
}

// HandlePaymentComplete receives the pay step's completion callback.
//
// The request must be a POST with a JSON body naming the order and the
// payment method the buyer chose. Redelivered callbacks are harmless.
func (h *Handler) HandlePaymentComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req paymentCompleteRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "bad_request", Message: "invalid JSON"})
		return
	}
	if req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "bad_request", Message: "order_id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	span := h.startSpan("payment-complete")
	order, err := h.orchestrator.CompletePayment(ctx, req.OrderID, req.PaymentMethod)
	span.End(err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentCompleteResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
	})
}

func (h *Handler) startSpan(operation string) Span {
	if h.recorder == nil {
		return noopSpan{}
	}
	return h.recorder.Start(operation)
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type redirectResponse struct {
	Destination string `json:"destination"`
	URL         string `json:"url"`
}

type paymentCompleteRequest struct {
	OrderID       string `json:"order_id"`
	PaymentMethod string `json:"payment_method"`
}

type paymentCompleteResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func sessionIDFrom(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return strings.TrimSpace(r.PostFormValue("session_id"))
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
