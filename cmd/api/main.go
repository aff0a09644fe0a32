package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldroute/internal/api"
	"fieldroute/internal/config"
	"fieldroute/internal/metrics"
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[main] .env not loaded: %v", err)
	}
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	metrics.RegisterDefault()

	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	defer func() { _ = srvDeps.Close() }()

	mux := http.NewServeMux()

	// Catalog
	mux.HandleFunc("/v1/stops", srvDeps.StopsHandler)

	// Optimization
	mux.HandleFunc("/v1/optimize", srvDeps.OptimizeHandler)
	mux.HandleFunc("/v1/optimizer/config", srvDeps.OptimizerConfigHandler)

	// Routes
	mux.HandleFunc("/v1/routes", srvDeps.RoutesIndexHandler)
	mux.HandleFunc("/v1/routes/", srvDeps.RouteByIDHandler) // includes /directions, /progress, /events/stream, /ws

	// Admin
	mux.HandleFunc("/v1/admin/cache", srvDeps.AdminCacheHandler)

	// Health, metrics, docs
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/info", srvDeps.DebugJSON)
	mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           logMiddleware(api.Instrument(srvDeps.RateLimit(mux))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("API listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
