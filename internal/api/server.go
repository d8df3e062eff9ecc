// Package api exposes the fee core over HTTP: quoting, transaction
// recording, ledgers, revenue reporting, rule administration, and
// referral links.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dinary/feecore/internal/domain"
)

// Server is the HTTP API server.
type Server struct {
	config  domain.ServerConfig
	handler *Handler
	router  chi.Router
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	s := &Server{
		config:  cfg,
		handler: handler,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", s.handler.Health)
	router.Get("/ready", s.handler.Ready)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/quotes", s.handler.CreateQuote)

		r.Post("/transactions", s.handler.RecordTransaction)
		r.Get("/transactions/{id}", s.handler.GetTransaction)

		r.Get("/accounts/{id}/ledger", s.handler.GetLedger)
		r.Get("/revenue", s.handler.GetRevenue)

		r.Route("/rules", func(r chi.Router) {
			r.Post("/reload", s.handler.ReloadRules)

			r.Route("/commission", func(r chi.Router) {
				r.Get("/", s.handler.ListCommissionRules)
				r.Post("/", s.handler.CreateCommissionRule)
				r.Get("/{id}", s.handler.GetCommissionRule)
				r.Delete("/{id}", s.handler.DeactivateCommissionRule)
			})

			r.Route("/referral", func(r chi.Router) {
				r.Get("/", s.handler.ListReferralRules)
				r.Post("/", s.handler.CreateReferralRule)
				r.Get("/{id}", s.handler.GetReferralRule)
				r.Delete("/{id}", s.handler.DeactivateReferralRule)
			})
		})

		r.Post("/referrals", s.handler.CreateReferral)
		r.Get("/referrals/{refereeId}", s.handler.GetReferral)
	})

	s.router = router
}

// Start begins listening for HTTP requests. Blocks until the server
// stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("api server starting", "addr", addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	slog.Info("api server shutting down")
	return s.server.Shutdown(ctx)
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}
