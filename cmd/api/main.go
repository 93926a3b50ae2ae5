// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"cannatrace/internal/config"
	"cannatrace/internal/telemetry"
)

// proxyTo builds a reverse proxy handler for one downstream service.
func proxyTo(rawURL string, logger *zap.Logger) http.Handler {
	target, err := url.Parse(rawURL)
	if err != nil {
		logger.Fatal("invalid downstream URL", zap.String("url", rawURL), zap.Error(err))
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("downstream unreachable",
			zap.String("target", target.Host),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, "downstream service unavailable", http.StatusBadGateway)
	}
	return http.StripPrefix("/api", proxy)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var cfg config.Gateway
	if err := config.Parse(&cfg); err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "api-gateway")
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	membership := proxyTo(cfg.MembershipURL, logger)
	inventory := proxyTo(cfg.InventoryURL, logger)
	distribution := proxyTo(cfg.DistributionURL, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/api", func(r chi.Router) {
		r.Handle("/members", membership)
		r.Handle("/members/*", membership)
		r.Handle("/login", membership)
		r.Handle("/units", inventory)
		r.Handle("/units/*", inventory)
		r.Handle("/sessions", distribution)
		r.Handle("/sessions/*", distribution)
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		logger.Info("api gateway listening", zap.String("addr", cfg.Addr))
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
