package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paystep/cmd/server/config"
	"paystep/internal/checkout"
	"paystep/internal/httpapi"
	"paystep/internal/observability"
	"paystep/internal/realtime"

	"github.com/joho/godotenv"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const healthServiceName = "paystep.CheckoutService"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	checkoutCfg, err := config.LoadCheckout()
	if err != nil {
		return err
	}
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}

	sessions, guard, cleanupRedis, err := buildSessionBackend(ctx, checkoutCfg)
	if err != nil {
		return err
	}
	defer cleanupRedis()

	hub := realtime.NewHub()
	go hub.Run()

	metrics := observability.NewMetrics()
	carts := checkout.NewInMemoryCartService()

	orchestrator, cleanupStore := buildOrchestrator(ctx, os.Getenv("DATABASE_URL"), checkoutCfg, carts, sessions, guard, metrics, hub, log.Printf)
	defer cleanupStore()

	handler := httpapi.New(orchestrator, spanRecorder{metrics}, httpCfg.RequestTimeout)
	limiter := newHTTPRateLimiter(httpCfg.RateLimitInterval, httpCfg.RateLimitBurst, metrics.AddRateLimitWait)

	mux := http.NewServeMux()
	mux.HandleFunc("/checkout", handler.HandleCheckout)
	mux.HandleFunc("/payments/complete", handler.HandlePaymentComplete)
	mux.Handle("/ws", httpapi.OrderEventsHandler(hub))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if env := os.Getenv("APP_ENV"); env != "production" {
		mux.Handle("/dev/cart", seedCartHandler(carts))
		log.Printf("dev cart seeding enabled (APP_ENV=%q)", env)
	}

	srv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: rateLimitMiddleware(limiter, mux),
	}

	grpcServer, healthServer, err := startHealthServer()
	if err != nil {
		return err
	}

	obsSrv, obsErr := startObservabilityServer(metrics)
	if obsErr != nil {
		return obsErr
	}

	log.Printf("checkout server running on %s", httpCfg.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if obsSrv != nil {
			_ = obsSrv.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		grpcServer.GracefulStop()
		return err
	}
}

// startHealthServer exposes a gRPC health endpoint for orchestration
// platforms that probe via grpc_health_v1 rather than HTTP.
func startHealthServer() (*grpcpkg.Server, *health.Server, error) {
	addr := os.Getenv("GRPC_HEALTH_ADDR")
	if addr == "" {
		addr = ":50051"
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	server := grpcpkg.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if env := os.Getenv("APP_ENV"); env != "production" {
		reflection.Register(server)
	}

	go func() {
		if err := server.Serve(lis); err != nil {
			log.Printf("grpc health server error: %v", err)
		}
	}()

	return server, healthServer, nil
}

func startObservabilityServer(metrics *observability.Metrics) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv, nil
}

// seedCartHandler lets dev environments load a cart for a session, standing
// in for the storefront's cart service.
func seedCartHandler(carts *checkout.InMemoryCartService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var cart checkout.Cart
		if err := json.NewDecoder(r.Body).Decode(&cart); err != nil || cart.SessionID == "" {
			http.Error(w, "invalid cart payload", http.StatusBadRequest)
			return
		}
		carts.Put(cart)
		w.WriteHeader(http.StatusNoContent)
	})
}

// spanRecorder adapts observability.Metrics to the httpapi recorder surface.
type spanRecorder struct {
	metrics *observability.Metrics
}

func (r spanRecorder) Start(operation string) httpapi.Span {
	return r.metrics.Start(operation)
}
