package checkout

import (
	"context"
	"fmt"
	"sync"
)

// NewInMemoryCartService constructs an in-memory cart service.
func NewInMemoryCartService() *InMemoryCartService {
	return &InMemoryCartService{carts: make(map[string]Cart)}
}

// InMemoryCartService holds carts keyed by session id.
type InMemoryCartService struct {
	mu    sync.Mutex
	carts map[string]Cart
}

// Put stores a cart for a session (test/dev seeding).
func (c *InMemoryCartService) Put(cart Cart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[cart.SessionID] = cart
}

func (c *InMemoryCartService) Cart(_ context.Context, sessionID string) (Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[sessionID]
	if !ok {
		return Cart{}, fmt.Errorf("%w for session %s", ErrCartNotFound, sessionID)
	}
	return cart, nil
}

func (c *InMemoryCartService) Clear(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, sessionID)
	return nil
}

// Cleared reports whether the session's cart is gone (for testing/inspection).
func (c *InMemoryCartService) Cleared(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.carts[sessionID]
	return !ok
}

// NewInMemoryOrderStore constructs an in-memory order store.
func NewInMemoryOrderStore() *InMemoryOrderStore {
	return &InMemoryOrderStore{orders: make(map[string]Order)}
}

// InMemoryOrderStore keeps orders in a map with the same optimistic
// concurrency contract as the Postgres store.
type InMemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func (s *InMemoryOrderStore) Create(_ context.Context, order Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return Order{}, fmt.Errorf("order %s already exists", order.ID)
	}
	for _, existing := range s.orders {
		if existing.Fingerprint == order.Fingerprint {
			return Order{}, fmt.Errorf("fingerprint %s already has order %s", order.Fingerprint, existing.ID)
		}
	}
	s.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (s *InMemoryOrderStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (s *InMemoryOrderStore) UpdateStatus(_ context.Context, id string, expected, next Status, entry AuditEntry) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if order.Status != expected {
		return Order{}, ErrStatusConflict
	}
	order.Status = next
	order.History = append(order.History, entry)
	s.orders[id] = order
	return cloneOrder(order), nil
}

func (s *InMemoryOrderStore) SetPaymentMethod(_ context.Context, id, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.PaymentMethod = method
	s.orders[id] = order
	return nil
}

// Count returns how many orders exist (for testing/inspection).
func (s *InMemoryOrderStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// NewInMemorySessionStore constructs an in-memory session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{attempts: make(map[string]int64)}
}

// InMemorySessionStore tracks per-session checkout attempt counters.
type InMemorySessionStore struct {
	mu       sync.Mutex
	attempts map[string]int64
}

func (s *InMemorySessionStore) Attempt(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts[sessionID] == 0 {
		s.attempts[sessionID] = 1
	}
	return s.attempts[sessionID], nil
}

func (s *InMemorySessionStore) AdvanceAttempt(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts[sessionID] == 0 {
		s.attempts[sessionID] = 1
	}
	s.attempts[sessionID]++
	return nil
}

func cloneOrder(order Order) Order {
	out := order
	out.History = append([]AuditEntry(nil), order.History...)
	return out
}
