// cmd/rfidsim/main.go
//
// rfidsim stands in for the shop-floor RFID reader service during local
// development. It answers the bind/verify/cancel protocol: bind waits out a
// configurable scan delay before answering with a bound token, verify
// consumes the token, cancel releases it. A non-zero SIM_FAIL_RATE makes it
// refuse verifications at random, which is how the recovery paths get
// exercised without unplugging a reader.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cannatrace/internal/config"
)

// tokenTTL expires bound sessions the distribution side forgot to cancel.
const tokenTTL = 5 * time.Minute

type simulator struct {
	cfg    config.Simulator
	logger *zap.Logger

	mu     sync.Mutex
	tokens map[string]time.Time
}

func newSimulator(cfg config.Simulator, logger *zap.Logger) *simulator {
	return &simulator{
		cfg:    cfg,
		logger: logger,
		tokens: make(map[string]time.Time),
	}
}

func (s *simulator) handleBind(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(s.cfg.ScanDelay):
	case <-r.Context().Done():
		s.logger.Info("bind abandoned before scan")
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = time.Now().Add(tokenTTL)
	s.mu.Unlock()

	s.logger.Info("card scanned", zap.String("token", token))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"token":     token,
		"user_id":   s.cfg.UserID,
		"user_name": s.cfg.UserName,
	})
}

func (s *simulator) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		UserName string `json:"user_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	expiry, ok := s.tokens[req.Token]
	delete(s.tokens, req.Token)
	s.mu.Unlock()

	if !ok || time.Now().After(expiry) {
		http.Error(w, "unknown or expired token", http.StatusNotFound)
		return
	}
	if rand.Float64() < s.cfg.FailRate {
		s.logger.Info("injected verification failure", zap.String("token", req.Token))
		http.Error(w, "card not recognised", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"member_id":   s.cfg.MemberID,
		"member_name": s.cfg.MemberName,
	})
}

func (s *simulator) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	delete(s.tokens, req.Token)
	s.mu.Unlock()

	s.logger.Info("session released", zap.String("token", req.Token))
	w.WriteHeader(http.StatusOK)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var cfg config.Simulator
	if err := config.Parse(&cfg); err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if _, err := uuid.Parse(cfg.MemberID); err != nil {
		logger.Fatal("SIM_MEMBER_ID must be a UUID", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := newSimulator(cfg, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/bind", sim.handleBind)
	r.Post("/verify", sim.handleVerify)
	r.Post("/cancel", sim.handleCancel)

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("rfid simulator listening",
			zap.String("addr", cfg.Addr),
			zap.Duration("scan_delay", cfg.ScanDelay),
			zap.Float64("fail_rate", cfg.FailRate),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}
