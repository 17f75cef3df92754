package checkout

import (
	"context"
	"time"
)

// Order is the unit the orchestrator creates and transitions.
type Order struct {
	ID            string
	Fingerprint   string
	TotalCents    int64
	Currency      string
	Status        Status
	OrderKey      string
	PaymentMethod string
	CreatedAt     time.Time
	History       []AuditEntry
}

// AuditEntry records one status transition.
type AuditEntry struct {
	Status Status
	At     time.Time
	Reason string
}

// Cart is a read-only snapshot of the buyer's cart.
type Cart struct {
	SessionID  string
	TotalCents int64
	Currency   string
	Lines      []CartLine
}

// CartLine is one priced line item in a cart.
type CartLine struct {
	SKU       string
	Quantity  int
	UnitCents int64
}

// BillingProfile maps submitted billing field names to their values.
type BillingProfile map[string]string

// CartService exposes the external cart owned by the storefront. Cart returns
// ErrCartNotFound (possibly wrapped) when the session has nothing to order.
type CartService interface {
	Cart(ctx context.Context, sessionID string) (Cart, error)
	Clear(ctx context.Context, sessionID string) error
}

// OrderStore persists orders. UpdateStatus must reject the write when the
// stored status no longer matches expected, returning ErrStatusConflict.
type OrderStore interface {
	Create(ctx context.Context, order Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	UpdateStatus(ctx context.Context, id string, expected, next Status, entry AuditEntry) (Order, error)
	SetPaymentMethod(ctx context.Context, id, method string) error
}

// SessionStore tracks the per-session checkout attempt counter.
type SessionStore interface {
	// Attempt returns the current attempt number for the session, starting at 1.
	Attempt(ctx context.Context, sessionID string) (int64, error)
	// AdvanceAttempt moves the session to a fresh attempt after a successful
	// checkout, so the next submission gets a new fingerprint.
	AdvanceAttempt(ctx context.Context, sessionID string) error
}
