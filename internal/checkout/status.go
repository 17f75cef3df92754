package checkout

// Status captures where an order is in the checkout lifecycle.
type Status string

const (
	// StatusDraft is assigned at creation, before the status policy runs.
	StatusDraft Status = "draft"
	// StatusPendingPayment means the buyer still owes money on the pay step.
	StatusPendingPayment Status = "pending-payment"
	// StatusCompleted is terminal: the order is paid (or was free).
	StatusCompleted Status = "completed"
	// StatusCancelled is terminal: the order was abandoned or voided.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingPayment, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// StatusPolicy decides the target status for an order given its total.
type StatusPolicy struct {
	// ReviewFreeOrders holds zero-total orders in pending-payment for manual
	// review instead of auto-completing them.
	ReviewFreeOrders bool
}

// Next maps (total, current) to the target status. Totals are minor currency
// units, so the free-order check is an exact integer comparison. Terminal
// states are returned unchanged no matter the total.
func (p StatusPolicy) Next(totalCents int64, current Status) Status {
	if current.Terminal() {
		return current
	}
	if current == StatusPendingPayment {
		// Only an external payment completion moves pending orders forward.
		return current
	}
	if totalCents == 0 && !p.ReviewFreeOrders {
		return StatusCompleted
	}
	return StatusPendingPayment
}
