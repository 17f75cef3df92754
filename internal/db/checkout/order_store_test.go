package checkoutdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"paystep/internal/checkout"
)

func newMockDB(t *testing.T) (*OrderStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewOrderStore(db), mock
}

func TestOrderStore_CreateWritesOrderAndHistory(t *testing.T) {
	store, mock := newMockDB(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	order := checkout.Order{
		ID:          "order-1",
		Fingerprint: "fp-1",
		TotalCents:  2500,
		Currency:    "USD",
		Status:      checkout.StatusDraft,
		OrderKey:    "wc_order_k1",
		CreatedAt:   created,
		History: []checkout.AuditEntry{
			{Status: checkout.StatusDraft, At: created, Reason: "checkout submitted"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("order-1", "fp-1", int64(2500), "USD", "draft", "wc_order_k1", created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO order_status_history`).
		WithArgs("order-1", "draft", "checkout submitted", created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	got, err := store.Create(context.Background(), order)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.ID != "order-1" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestOrderStore_CreateRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()

	_, err := store.Create(context.Background(), checkout.Order{ID: "order-1", Fingerprint: "fp-1"})
	if err == nil {
		t.Fatalf("expected insert failure")
	}
}

func TestOrderStore_GetLoadsOrderWithHistory(t *testing.T) {
	store, mock := newMockDB(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, fingerprint, total_cents, currency, status, order_key, payment_method, created_at`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fingerprint", "total_cents", "currency", "status", "order_key", "payment_method", "created_at"}).
			AddRow("order-1", "fp-1", int64(2500), "USD", "pending-payment", "wc_order_k1", "", created))
	mock.ExpectQuery(`SELECT status, reason, created_at`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "reason", "created_at"}).
			AddRow("draft", "checkout submitted", created).
			AddRow("pending-payment", "awaiting payment", created))

	order, err := store.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.Status != checkout.StatusPendingPayment {
		t.Fatalf("status = %s", order.Status)
	}
	if len(order.History) != 2 || order.History[1].Reason != "awaiting payment" {
		t.Fatalf("unexpected history: %+v", order.History)
	}
}

func TestOrderStore_GetUnknownOrder(t *testing.T) {
	store, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT id, fingerprint, total_cents, currency, status, order_key, payment_method, created_at`).
		WithArgs("order-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fingerprint", "total_cents", "currency", "status", "order_key", "payment_method", "created_at"}))

	_, err := store.Get(context.Background(), "order-missing")
	if !errors.Is(err, checkout.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_UpdateStatusGuardedByExpected(t *testing.T) {
	store, mock := newMockDB(t)
	at := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders`).
		WithArgs("order-1", "draft", "pending-payment").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO order_status_history`).
		WithArgs("order-1", "pending-payment", "awaiting payment", at).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT id, fingerprint, total_cents, currency, status, order_key, payment_method, created_at`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fingerprint", "total_cents", "currency", "status", "order_key", "payment_method", "created_at"}).
			AddRow("order-1", "fp-1", int64(2500), "USD", "pending-payment", "wc_order_k1", "", at))
	mock.ExpectQuery(`SELECT status, reason, created_at`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "reason", "created_at"}))

	entry := checkout.AuditEntry{Status: checkout.StatusPendingPayment, At: at, Reason: "awaiting payment"}
	order, err := store.UpdateStatus(context.Background(), "order-1", checkout.StatusDraft, checkout.StatusPendingPayment, entry)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if order.Status != checkout.StatusPendingPayment {
		t.Fatalf("status = %s", order.Status)
	}
}

func TestOrderStore_UpdateStatusConflictWhenStatusMoved(t *testing.T) {
	store, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders`).
		WithArgs("order-1", "draft", "pending-payment").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	entry := checkout.AuditEntry{Status: checkout.StatusPendingPayment}
	_, err := store.UpdateStatus(context.Background(), "order-1", checkout.StatusDraft, checkout.StatusPendingPayment, entry)
	if !errors.Is(err, checkout.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestOrderStore_UpdateStatusUnknownOrder(t *testing.T) {
	store, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders`).
		WithArgs("order-missing", "draft", "pending-payment").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("order-missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	entry := checkout.AuditEntry{Status: checkout.StatusPendingPayment}
	_, err := store.UpdateStatus(context.Background(), "order-missing", checkout.StatusDraft, checkout.StatusPendingPayment, entry)
	if !errors.Is(err, checkout.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_SetPaymentMethod(t *testing.T) {
	store, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE orders SET payment_method`).
		WithArgs("order-1", "card").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetPaymentMethod(context.Background(), "order-1", "card"); err != nil {
		t.Fatalf("set payment method: %v", err)
	}
}

func TestOrderStore_SetPaymentMethodUnknownOrder(t *testing.T) {
	store, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE orders SET payment_method`).
		WithArgs("order-missing", "card").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetPaymentMethod(context.Background(), "order-missing", "card")
	if !errors.Is(err, checkout.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_InitSchema(t *testing.T) {
	store, mock := newMockDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS orders`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS order_status_history`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
}
