package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"paystep/cmd/server/config"
	"paystep/internal/checkout"
	checkoutdb "paystep/internal/db/checkout"
	"paystep/internal/observability"
	"paystep/internal/realtime"
)

// buildOrchestrator wires the checkout pipeline from config (Postgres DSN and
// the optional Redis-backed session store/guard). If the DSN is empty or
// initialization fails, it falls back to in-memory stores. The returned
// cleanup closes any external resources (e.g., DB connections).
func buildOrchestrator(ctx context.Context, dsn string, cfg config.CheckoutConfig, carts checkout.CartService, sessions checkout.SessionStore, guard checkout.Guard, metrics *observability.Metrics, hub *realtime.Hub, logf func(format string, args ...any)) (*checkout.Orchestrator, func()) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	var store checkout.OrderStore = checkout.NewInMemoryOrderStore()

	if dsn != "" {
		sqlDB, err := sql.Open("pgx", dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory orders: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			pgStore, err := checkoutdb.NewOrderStoreWithSchema(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory orders: %v", err)
				_ = sqlDB.Close()
			} else {
				logf("postgres orders enabled")
				store = pgStore
				if guard == nil {
					resStore, resErr := checkoutdb.NewReservationStoreWithSchema(setupCtx, sqlDB, cfg.ReservationWait, cfg.ReservationTTL)
					if resErr != nil {
						logf("postgres reservations init failed, using in-memory guard: %v", resErr)
					} else {
						logf("postgres reservations enabled")
						guard = resStore
					}
				}
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
			}
		}
	}

	if guard == nil {
		guard = checkout.NewMemoryGuard(cfg.ReservationWait, cfg.ReservationTTL)
	}
	if sessions == nil {
		sessions = checkout.NewInMemorySessionStore()
	}
	if carts == nil {
		carts = checkout.NewInMemoryCartService()
	}

	fields := checkout.DefaultFieldConfig()
	if len(cfg.RequiredFields) > 0 {
		fields = checkout.FieldConfig{}
		for _, spec := range cfg.RequiredFields {
			fields.Required = append(fields.Required, checkout.RequiredField{Name: spec.Name, Label: spec.Label})
		}
	}

	breaker := checkout.NewCircuitBreaker(checkout.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 2 * time.Second})

	return checkout.NewOrchestrator(
			carts,
			checkout.NewReliableOrderStore(store, breaker),
			guard,
			sessions,
			checkout.NewValidator(fields),
			checkout.NewResolver(checkout.PageURLBuilder{Base: cfg.BaseURL}),
			checkout.WithStatusPolicy(checkout.StatusPolicy{ReviewFreeOrders: cfg.ReviewFreeOrders}),
			checkout.WithStats(metrics),
			checkout.WithEventPublisher(hub),
			checkout.WithLogf(logf),
		),
		cleanup
}
