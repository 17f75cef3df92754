package checkoutdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paystep/internal/checkout"
)

// ReservationStore is a Postgres-backed checkout.Guard. The insert-or-nothing
// on the fingerprint primary key makes acquisition atomic across instances;
// everyone else polls briefly for the acquirer's order id.
type ReservationStore struct {
	db         *sql.DB
	waitBudget time.Duration
	ttl        time.Duration
	pollEvery  time.Duration
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// NewReservationStore constructs a ReservationStore.
func NewReservationStore(db *sql.DB, waitBudget, ttl time.Duration) *ReservationStore {
	if waitBudget <= 0 {
		waitBudget = 300 * time.Millisecond
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ReservationStore{
		db:         db,
		waitBudget: waitBudget,
		ttl:        ttl,
		pollEvery:  25 * time.Millisecond,
		now:        time.Now,
		sleep:      sleepWithContext,
	}
}

// NewReservationStoreWithSchema initializes the schema then returns the store.
func NewReservationStoreWithSchema(ctx context.Context, db *sql.DB, waitBudget, ttl time.Duration) (*ReservationStore, error) {
	store := NewReservationStore(db, waitBudget, ttl)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the reservations table if it does not exist.
func (s *ReservationStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkout_reservations (
			fingerprint TEXT PRIMARY KEY,
			order_id TEXT NOT NULL DEFAULT '',
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Reserve claims the fingerprint or waits for the current owner's order id.
func (s *ReservationStore) Reserve(ctx context.Context, fingerprint string) (checkout.Reservation, error) {
	deadline := s.now().Add(s.waitBudget)

	for {
		if err := ctx.Err(); err != nil {
			return checkout.Reservation{}, err
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO checkout_reservations (fingerprint, claimed_at)
			VALUES ($1, $2)
			ON CONFLICT (fingerprint) DO NOTHING`,
			fingerprint, s.now(),
		)
		if err != nil {
			return checkout.Reservation{}, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return checkout.Reservation{}, err
		}
		if affected == 1 {
			return checkout.Reservation{Acquired: true}, nil
		}

		row := s.db.QueryRowContext(ctx, `
			SELECT order_id, claimed_at
			FROM checkout_reservations
			WHERE fingerprint = $1`,
			fingerprint,
		)
		var orderID string
		var claimedAt time.Time
		if err := row.Scan(&orderID, &claimedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Released between our insert and select; try again.
				continue
			}
			return checkout.Reservation{}, err
		}
		if orderID != "" {
			return checkout.Reservation{OrderID: orderID}, nil
		}

		if s.now().Sub(claimedAt) > s.ttl {
			// The owner went away without producing an order; take over.
			res, err := s.db.ExecContext(ctx, `
				UPDATE checkout_reservations
				SET claimed_at = $2
				WHERE fingerprint = $1 AND order_id = '' AND claimed_at = $3`,
				fingerprint, s.now(), claimedAt,
			)
			if err != nil {
				return checkout.Reservation{}, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return checkout.Reservation{}, err
			}
			if affected == 1 {
				return checkout.Reservation{Acquired: true}, nil
			}
			continue
		}

		if s.now().Add(s.pollEvery).After(deadline) {
			return checkout.Reservation{}, checkout.ErrReservationTimeout
		}
		if err := s.sleep(ctx, s.pollEvery); err != nil {
			return checkout.Reservation{}, err
		}
	}
}

// Fulfill records the order created under an acquired reservation.
func (s *ReservationStore) Fulfill(ctx context.Context, fingerprint, orderID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE checkout_reservations
		SET order_id = $2
		WHERE fingerprint = $1`,
		fingerprint, orderID,
	)
	return err
}

// Release drops an unfulfilled claim so the fingerprint can be re-acquired.
// Fulfilled reservations are kept: they are what maps retries to the order.
func (s *ReservationStore) Release(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkout_reservations
		WHERE fingerprint = $1 AND order_id = ''`,
		fingerprint,
	)
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
