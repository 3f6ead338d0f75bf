package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yourorg/checkout-orchestrator/internal/catalog"
	"github.com/yourorg/checkout-orchestrator/internal/config"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
	"github.com/yourorg/checkout-orchestrator/internal/gateway/circuitbreaker"
	"github.com/yourorg/checkout-orchestrator/internal/monitor"
	"github.com/yourorg/checkout-orchestrator/internal/orchestrator"
	"github.com/yourorg/checkout-orchestrator/internal/policy"
	"github.com/yourorg/checkout-orchestrator/internal/reporting"
	"github.com/yourorg/checkout-orchestrator/internal/server"
	"github.com/yourorg/checkout-orchestrator/internal/store"
	"github.com/yourorg/checkout-orchestrator/internal/worker"
)

const (
	reconcileInterval   = time.Minute
	reconcileStaleAfter = 10 * time.Minute
	shutdownGrace       = 10 * time.Second
)

func setupTracing() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// loadVerifier reads AUTH_TOKENS ("token=userID" or "token=userID:admin",
// comma-separated). Unknown tokens are always rejected; there is no
// anonymous access.
func loadVerifier() *server.StaticTokenVerifier {
	verifier := server.NewStaticTokenVerifier()
	raw := os.Getenv("AUTH_TOKENS")
	if raw == "" {
		log.Println("AUTH_TOKENS not set: all API requests will be rejected with 401")
		return verifier
	}
	for _, pair := range strings.Split(raw, ",") {
		token, spec, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" || spec == "" {
			log.Printf("skipping malformed AUTH_TOKENS entry %q", pair)
			continue
		}
		userID, role, _ := strings.Cut(spec, ":")
		verifier.Register(token, server.Identity{UserID: userID, IsAdmin: role == "admin"})
	}
	return verifier
}

func main() {
	log.Println("Starting checkout-orchestrator...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := setupTracing()
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var orders store.OrderStore
	if cfg.Database.Host != "" {
		pg, err := store.NewPostgresOrderStore(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer pg.Close()
		orders = pg
		log.Printf("Using postgres order store at %s:%s", cfg.Database.Host, cfg.Database.Port)
	} else {
		orders = store.NewMemoryOrderStore()
		log.Println("DB_HOST not set: using in-memory order store")
	}

	retryPolicy, err := policy.NewRetryPolicy(policy.DefaultCreateRules())
	if err != nil {
		log.Fatalf("Failed to compile retry policy: %v", err)
	}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{})
	gatewayClient := gateway.NewClient(cfg.Gateway, nil, retryPolicy, breaker)

	recorder := reporting.NewRecorder()
	orch := orchestrator.NewOrchestrator(orders, gatewayClient, catalog.NewMemoryCatalog(), recorder)

	contract, err := monitor.NewCheckoutContractMonitor()
	if err != nil {
		log.Fatalf("Failed to compile request schema: %v", err)
	}

	reconciler := worker.NewReconciliationWorker(orders, gatewayClient, reconcileInterval, reconcileStaleAfter)
	go reconciler.Run(ctx)

	srv := server.NewServer(orch, gatewayClient, loadVerifier(), recorder, orders, contract, cfg.AllowedOrigin)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		log.Printf("Listening on %s (gateway mode: %s)", cfg.ListenAddr, cfg.Gateway.Mode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracer shutdown: %v", err)
	}
}
