package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// EventPublisher receives status transitions after they are persisted.
// Implementations must not block; the realtime hub fans these out to
// storefront listeners.
type EventPublisher interface {
	PublishStatus(order Order, previous Status)
}

// Stats receives orchestrator counters. All methods are called at most once
// per Checkout call.
type Stats interface {
	OrderCreated()
	DuplicateCoalesced()
	ValidationFailed()
	ReservationTimedOut()
}

// Orchestrator runs the checkout pipeline: validate, reserve, create,
// transition, redirect. It is safe for concurrent use.
type Orchestrator struct {
	carts     CartService
	store     OrderStore
	guard     Guard
	sessions  SessionStore
	validator *Validator
	policy    StatusPolicy
	resolver  *Resolver
	retry     RetryPolicy

	events EventPublisher
	stats  Stats
	logf   func(format string, args ...any)
	now    func() time.Time
	newID  func() string
	newKey func() string
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithEventPublisher wires a publisher for persisted status transitions.
func WithEventPublisher(events EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.events = events }
}

// WithStats wires orchestrator counters.
func WithStats(stats Stats) OrchestratorOption {
	return func(o *Orchestrator) { o.stats = stats }
}

// WithRetryPolicy overrides the store retry budget.
func WithRetryPolicy(retry RetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.retry = retry }
}

// WithStatusPolicy overrides the status policy (e.g. ReviewFreeOrders).
func WithStatusPolicy(policy StatusPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.policy = policy }
}

// WithLogf overrides the logger.
func WithLogf(logf func(format string, args ...any)) OrchestratorOption {
	return func(o *Orchestrator) { o.logf = logf }
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerators overrides order id and order key generation for tests.
func WithIDGenerators(newID, newKey func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
		if newKey != nil {
			o.newKey = newKey
		}
	}
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(carts CartService, store OrderStore, guard Guard, sessions SessionStore, validator *Validator, resolver *Resolver, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		carts:     carts,
		store:     store,
		guard:     guard,
		sessions:  sessions,
		validator: validator,
		resolver:  resolver,
		retry:     DefaultRetryPolicy(),
		logf:      log.Printf,
		now:       time.Now,
		newID:     func() string { return "order-" + uuid.NewString() },
		newKey:    func() string { return "wc_order_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Checkout runs one checkout submission end to end and returns the redirect
// the HTTP layer should perform. Retrying a failed call with the same session
// is always safe: the guard short-circuits to the order already created.
func (o *Orchestrator) Checkout(ctx context.Context, sessionID string, profile BillingProfile) (RedirectDecision, error) {
	if verr := o.validator.Validate(profile); verr != nil {
		if o.stats != nil {
			o.stats.ValidationFailed()
		}
		return RedirectDecision{}, verr
	}

	attempt, err := o.sessions.Attempt(ctx, sessionID)
	if err != nil {
		return RedirectDecision{}, fmt.Errorf("session attempt: %w", err)
	}
	fingerprint := Fingerprint(sessionID, attempt)

	reservation, err := o.guard.Reserve(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, ErrReservationTimeout) && o.stats != nil {
			o.stats.ReservationTimedOut()
		}
		return RedirectDecision{}, err
	}

	var order Order
	created := false
	if reservation.Acquired {
		order, created, err = o.orderForAcquirer(ctx, sessionID, fingerprint, attempt)
	} else {
		order, err = o.loadOrder(ctx, reservation.OrderID)
	}
	if err != nil {
		return RedirectDecision{}, err
	}
	if o.stats != nil {
		if created {
			o.stats.OrderCreated()
		} else {
			o.stats.DuplicateCoalesced()
		}
	}

	order, err = o.settleStatus(ctx, order, sessionID)
	if err != nil {
		return RedirectDecision{}, err
	}

	return o.resolver.Resolve(order)
}

// CompletePayment records the outcome of the external pay step: the chosen
// payment method and the move to completed. Terminal orders are left alone,
// so redelivered payment webhooks are harmless.
func (o *Orchestrator) CompletePayment(ctx context.Context, orderID, paymentMethod string) (Order, error) {
	order, err := o.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status.Terminal() {
		return order, nil
	}
	if order.Status == StatusDraft {
		return Order{}, fmt.Errorf("%w: payment completion for draft order %s", ErrInvariantViolation, orderID)
	}

	reason := "payment completed"
	if paymentMethod != "" {
		reason = "payment completed via " + paymentMethod
	}
	updated, err := o.transition(ctx, order, StatusCompleted, reason)
	if err != nil {
		return Order{}, err
	}
	if updated.Status != StatusCompleted {
		// A concurrent cancellation won the conflict; the method the buyer
		// picked must not stick to a cancelled order.
		return updated, nil
	}
	if paymentMethod != "" {
		if err := o.store.SetPaymentMethod(ctx, orderID, paymentMethod); err != nil {
			return Order{}, fmt.Errorf("%w: record payment method for %s: %v", ErrPersistenceFailed, orderID, err)
		}
		updated.PaymentMethod = paymentMethod
	}
	if o.events != nil {
		o.events.PublishStatus(updated, order.Status)
	}
	return updated, nil
}

// orderForAcquirer creates the order under a freshly acquired reservation.
// When the cart is already gone, the winner of a concurrent submission has
// finished first: the cart clear and the attempt advance are not atomic, so a
// duplicate reading the counter after the advance acquires a fingerprint no
// cart backs. Its order lives under the previous attempt; hand the claim back
// and coalesce onto that order instead of failing.
func (o *Orchestrator) orderForAcquirer(ctx context.Context, sessionID, fingerprint string, attempt int64) (Order, bool, error) {
	cart, err := o.carts.Cart(ctx, sessionID)
	if err != nil {
		if releaseErr := o.guard.Release(ctx, fingerprint); releaseErr != nil {
			o.logf("release reservation %s: %v", fingerprint, releaseErr)
		}
		if errors.Is(err, ErrCartNotFound) && attempt > 1 {
			if order, ok := o.orderForAttempt(ctx, sessionID, attempt-1); ok {
				return order, false, nil
			}
		}
		return Order{}, false, fmt.Errorf("load cart: %w", err)
	}

	order, err := o.createOrder(ctx, fingerprint, cart)
	if err != nil {
		if releaseErr := o.guard.Release(ctx, fingerprint); releaseErr != nil {
			o.logf("release reservation %s: %v", fingerprint, releaseErr)
		}
		return Order{}, false, err
	}
	if err := o.guard.Fulfill(ctx, fingerprint, order.ID); err != nil {
		o.logf("fulfill reservation %s: %v", fingerprint, err)
	}
	return order, true, nil
}

// orderForAttempt loads the order recorded under a given attempt's
// fingerprint, if one exists.
func (o *Orchestrator) orderForAttempt(ctx context.Context, sessionID string, attempt int64) (Order, bool) {
	fingerprint := Fingerprint(sessionID, attempt)
	reservation, err := o.guard.Reserve(ctx, fingerprint)
	if err != nil {
		return Order{}, false
	}
	if reservation.Acquired {
		// Nothing was created under that attempt after all.
		if err := o.guard.Release(ctx, fingerprint); err != nil {
			o.logf("release reservation %s: %v", fingerprint, err)
		}
		return Order{}, false
	}
	order, err := o.loadOrder(ctx, reservation.OrderID)
	if err != nil {
		return Order{}, false
	}
	return order, true
}

func (o *Orchestrator) createOrder(ctx context.Context, fingerprint string, cart Cart) (Order, error) {
	draft := Order{
		ID:          o.newID(),
		Fingerprint: fingerprint,
		TotalCents:  cart.TotalCents,
		Currency:    cart.Currency,
		Status:      StatusDraft,
		OrderKey:    o.newKey(),
		CreatedAt:   o.now(),
		History: []AuditEntry{{
			Status: StatusDraft,
			At:     o.now(),
			Reason: "checkout submitted",
		}},
	}

	var created Order
	err := o.retry.Do(ctx, func() error {
		var innerErr error
		created, innerErr = o.store.Create(ctx, draft)
		return innerErr
	})
	if err != nil {
		return Order{}, fmt.Errorf("%w: create order: %v", ErrPersistenceFailed, err)
	}
	return created, nil
}

func (o *Orchestrator) loadOrder(ctx context.Context, id string) (Order, error) {
	var order Order
	err := o.retry.Do(ctx, func() error {
		var innerErr error
		order, innerErr = o.store.Get(ctx, id)
		return innerErr
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("%w: load order %s: %v", ErrPersistenceFailed, id, err)
	}
	return order, nil
}

// settleStatus applies the status policy and, when the order just left draft,
// persists the transition and fires the post-checkout side effects exactly
// once.
func (o *Orchestrator) settleStatus(ctx context.Context, order Order, sessionID string) (Order, error) {
	next := o.policy.Next(order.TotalCents, order.Status)
	if next == order.Status {
		return order, nil
	}

	reason := "awaiting payment"
	if next == StatusCompleted {
		reason = "zero-total order auto-completed"
	}

	previous := order.Status
	updated, err := o.transition(ctx, order, next, reason)
	if err != nil {
		return Order{}, err
	}

	// Side effects run only after the transition is durable.
	if clearErr := o.carts.Clear(ctx, sessionID); clearErr != nil {
		o.logf("clear cart for session %s: %v", sessionID, clearErr)
	}
	if advErr := o.sessions.AdvanceAttempt(ctx, sessionID); advErr != nil {
		o.logf("advance attempt for session %s: %v", sessionID, advErr)
	}
	if o.events != nil {
		o.events.PublishStatus(updated, previous)
	}
	return updated, nil
}

// transition persists a status change with one optimistic-conflict retry:
// on conflict the order is re-read, the policy re-evaluated, and the write
// attempted once more.
func (o *Orchestrator) transition(ctx context.Context, order Order, next Status, reason string) (Order, error) {
	entry := AuditEntry{Status: next, At: o.now(), Reason: reason}

	var updated Order
	err := o.retry.Do(ctx, func() error {
		var innerErr error
		updated, innerErr = o.store.UpdateStatus(ctx, order.ID, order.Status, next, entry)
		return innerErr
	})
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrStatusConflict) {
		return Order{}, fmt.Errorf("%w: transition order %s to %s: %v", ErrPersistenceFailed, order.ID, next, err)
	}

	// Someone else moved the order first; reload and re-decide.
	fresh, loadErr := o.loadOrder(ctx, order.ID)
	if loadErr != nil {
		return Order{}, loadErr
	}
	if fresh.Status.Terminal() || fresh.Status == next {
		return fresh, nil
	}
	renext := o.policy.Next(fresh.TotalCents, fresh.Status)
	if renext == fresh.Status {
		return fresh, nil
	}
	entry = AuditEntry{Status: renext, At: o.now(), Reason: reason}
	updated, err = o.store.UpdateStatus(ctx, fresh.ID, fresh.Status, renext, entry)
	if err != nil {
		return Order{}, fmt.Errorf("%w: transition order %s to %s after conflict: %v", ErrPersistenceFailed, fresh.ID, renext, err)
	}
	return updated, nil
}
