// Package server provides the HTTP API for the tracker.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tracker/internal/database"
	"github.com/aristath/tracker/internal/modules/dividends"
	"github.com/aristath/tracker/internal/modules/holdings"
	"github.com/aristath/tracker/internal/modules/ledger"
	"github.com/aristath/tracker/internal/modules/prices"
	"github.com/aristath/tracker/internal/modules/universe"
	"github.com/aristath/tracker/internal/queue"
	"github.com/aristath/tracker/internal/refresh"
)

// Config holds the server wiring.
type Config struct {
	Log          zerolog.Logger
	Port         int
	DevMode      bool
	Holdings     *holdings.Service
	Transactions *ledger.TransactionRepository
	Securities   *universe.SecurityRepository
	Prices       *prices.Repository
	Dividends    *dividends.Repository
	Coordinator  *refresh.Coordinator
	Queue        *queue.Manager
	Databases    map[string]*database.DB
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	transactionHandlers *TransactionHandlers
	portfolioHandlers   *PortfolioHandlers
	securityHandlers    *SecurityHandlers
	refreshHandlers     *RefreshHandlers
	systemHandlers      *SystemHandlers
}

// New creates the HTTP server and mounts all routes.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),

		transactionHandlers: NewTransactionHandlers(cfg.Holdings, cfg.Transactions, cfg.Log),
		portfolioHandlers:   NewPortfolioHandlers(cfg.Holdings, cfg.Transactions, cfg.Log),
		securityHandlers:    NewSecurityHandlers(cfg.Securities, cfg.Prices, cfg.Dividends, cfg.Log),
		refreshHandlers:     NewRefreshHandlers(cfg.Coordinator, cfg.Queue, cfg.Log),
		systemHandlers:      NewSystemHandlers(cfg.Databases, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", s.transactionHandlers.HandleCreate)
			r.Get("/", s.transactionHandlers.HandleList)
			r.Delete("/{id}", s.transactionHandlers.HandleDelete)
		})

		r.Route("/portfolios/{portfolioID}", func(r chi.Router) {
			r.Get("/holdings", s.portfolioHandlers.HandleHoldings)
			r.Get("/summary", s.portfolioHandlers.HandleSummary)
			r.Get("/dividends", s.portfolioHandlers.HandleDividendIncome)
		})

		r.Route("/securities", func(r chi.Router) {
			r.Post("/", s.securityHandlers.HandleUpsert)
			r.Get("/", s.securityHandlers.HandleList)
			r.Get("/{id}/prices", s.securityHandlers.HandlePriceHistory)
			r.Get("/{id}/dividends", s.securityHandlers.HandleDividendHistory)
		})

		r.Route("/refresh", func(r chi.Router) {
			r.Post("/prices", s.refreshHandlers.HandleTriggerPrices)
			r.Post("/dividends", s.refreshHandlers.HandleTriggerDividends)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.refreshHandlers.HandleQueueStats)
			r.Get("/dead", s.refreshHandlers.HandleDeadJobs)
			r.Get("/batch/{batchID}", s.refreshHandlers.HandleBatch)
			r.Post("/{id}/retry", s.refreshHandlers.HandleRetryDead)
		})

		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
