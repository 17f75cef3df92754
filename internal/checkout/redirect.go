package checkout

import "fmt"

// Destination names the page the buyer is sent to after checkout.
type Destination string

const (
	DestinationConfirmation      Destination = "confirmation"
	DestinationPaymentCollection Destination = "payment-collection"
)

// RedirectDecision tells the HTTP layer where to send the buyer. It is never
// persisted.
type RedirectDecision struct {
	Destination Destination
	URL         string
}

// URLBuilder renders the storefront's confirmation and payment page URLs.
type URLBuilder interface {
	ConfirmationURL(orderID, orderKey string, cancelled bool) string
	PaymentURL(orderID, orderKey string) string
}

// Resolver maps a persisted order to its next-step destination.
type Resolver struct {
	urls URLBuilder
}

// NewResolver constructs a Resolver over the given URL builder.
func NewResolver(urls URLBuilder) *Resolver {
	return &Resolver{urls: urls}
}

// Resolve is pure given the order snapshot: the same order yields
// byte-identical decisions, so retrying the redirect step is safe.
func (r *Resolver) Resolve(order Order) (RedirectDecision, error) {
	switch order.Status {
	case StatusCompleted:
		return RedirectDecision{
			Destination: DestinationConfirmation,
			URL:         r.urls.ConfirmationURL(order.ID, order.OrderKey, false),
		}, nil
	case StatusPendingPayment:
		return RedirectDecision{
			Destination: DestinationPaymentCollection,
			URL:         r.urls.PaymentURL(order.ID, order.OrderKey),
		}, nil
	case StatusCancelled:
		// Cancelled orders land on the confirmation page with a banner; no
		// separate destination exists for them.
		return RedirectDecision{
			Destination: DestinationConfirmation,
			URL:         r.urls.ConfirmationURL(order.ID, order.OrderKey, true),
		}, nil
	case StatusDraft:
		return RedirectDecision{}, fmt.Errorf("%w: draft order %s reached the resolver", ErrInvariantViolation, order.ID)
	default:
		return RedirectDecision{}, fmt.Errorf("%w: order %s has unknown status %q", ErrInvariantViolation, order.ID, order.Status)
	}
}

// PageURLBuilder builds storefront URLs under a fixed base, mirroring the
// shop's order-received and order-pay endpoints.
type PageURLBuilder struct {
	Base string
}

func (b PageURLBuilder) ConfirmationURL(orderID, orderKey string, cancelled bool) string {
	url := fmt.Sprintf("%s/checkout/order-received/%s/?key=%s", b.Base, orderID, orderKey)
	if cancelled {
		url += "&cancelled=true"
	}
	return url
}

func (b PageURLBuilder) PaymentURL(orderID, orderKey string) string {
	return fmt.Sprintf("%s/checkout/order-pay/%s/?pay_for_order=true&key=%s", b.Base, orderID, orderKey)
}
