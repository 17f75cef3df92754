package checkoutdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paystep/internal/checkout"
)

// OrderStore persists orders and their status history in Postgres.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the order tables if they do not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			fingerprint TEXT UNIQUE NOT NULL,
			total_cents BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			order_key TEXT NOT NULL,
			payment_method TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS order_status_history (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Create inserts a draft order and its first history row. The unique
// fingerprint column is the database-level backstop behind the guard.
func (s *OrderStore) Create(ctx context.Context, order checkout.Order) (checkout.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return checkout.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, fingerprint, total_cents, currency, status, order_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, order.Fingerprint, order.TotalCents, order.Currency, string(order.Status), order.OrderKey, order.CreatedAt,
	)
	if err != nil {
		return checkout.Order{}, err
	}

	for _, entry := range order.History {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, status, reason, created_at)
			VALUES ($1, $2, $3, $4)`,
			order.ID, string(entry.Status), entry.Reason, entry.At,
		)
		if err != nil {
			return checkout.Order{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return checkout.Order{}, err
	}
	return order, nil
}

// Get loads an order and its status history.
func (s *OrderStore) Get(ctx context.Context, id string) (checkout.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, fingerprint, total_cents, currency, status, order_key, payment_method, created_at
		FROM orders
		WHERE id = $1`,
		id,
	)

	var order checkout.Order
	var status string
	err := row.Scan(&order.ID, &order.Fingerprint, &order.TotalCents, &order.Currency, &status, &order.OrderKey, &order.PaymentMethod, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkout.Order{}, checkout.ErrOrderNotFound
		}
		return checkout.Order{}, err
	}
	order.Status = checkout.Status(status)

	history, err := s.history(ctx, id)
	if err != nil {
		return checkout.Order{}, err
	}
	order.History = history
	return order, nil
}

// UpdateStatus transitions the order only when the stored status still
// matches expected, appending an audit row in the same transaction.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, expected, next checkout.Status, entry checkout.AuditEntry) (checkout.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return checkout.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $3
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(next),
	)
	if err != nil {
		return checkout.Order{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return checkout.Order{}, err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return checkout.Order{}, err
		}
		if !exists {
			return checkout.Order{}, checkout.ErrOrderNotFound
		}
		return checkout.Order{}, fmt.Errorf("%w: order %s no longer %s", checkout.ErrStatusConflict, id, expected)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, reason, created_at)
		VALUES ($1, $2, $3, $4)`,
		id, string(entry.Status), entry.Reason, entry.At,
	)
	if err != nil {
		return checkout.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return checkout.Order{}, err
	}

	return s.Get(ctx, id)
}

// SetPaymentMethod records the method the buyer chose on the pay step.
func (s *OrderStore) SetPaymentMethod(ctx context.Context, id, method string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET payment_method = $2 WHERE id = $1`, id, method)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return checkout.ErrOrderNotFound
	}
	return nil
}

func (s *OrderStore) history(ctx context.Context, orderID string) ([]checkout.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, reason, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []checkout.AuditEntry
	for rows.Next() {
		var entry checkout.AuditEntry
		var status string
		var reason sql.NullString
		if err := rows.Scan(&status, &reason, &entry.At); err != nil {
			return nil, err
		}
		entry.Status = checkout.Status(status)
		entry.Reason = reason.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
