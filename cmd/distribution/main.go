// cmd/distribution/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"cannatrace/internal/clients"
	"cannatrace/internal/config"
	"cannatrace/internal/distribution"
	"cannatrace/internal/quota"
	"cannatrace/internal/rfid"
	"cannatrace/internal/telemetry"
	"cannatrace/pkg/eventstore"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var cfg config.Distribution
	if err := config.Parse(&cfg); err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	policy, err := cfg.Quota.Policy()
	if err != nil {
		logger.Fatal("invalid quota policy", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "distribution-service")
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	service := distribution.NewService(
		distribution.NewManager(),
		clients.NewMembershipClient(cfg.MembershipURL),
		clients.NewInventoryClient(cfg.InventoryURL),
		quota.NewPostgresSource(db),
		rfid.NewClient(cfg.RFIDProviderURL, logger),
		eventstore.NewEventStore(db),
		distribution.NewPostgresRecordStore(db),
		policy,
		cfg.HandshakeTimeout,
		logger,
	)
	handler := distribution.NewHandler(service)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler.Routes(r)

	// The authorize endpoint blocks for the length of the RFID handshake,
	// so the write timeout has to outlast it.
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HandshakeTimeout + 30*time.Second,
	}

	go func() {
		logger.Info("distribution service listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", zap.Error(err))
	}
}
