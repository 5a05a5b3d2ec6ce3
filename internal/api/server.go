// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/service"
	"github.com/shopspring/decimal"
)

// Service interfaces for dependency injection and testing

// PortfolioServiceInterface defines portfolio state and reporting operations
type PortfolioServiceInterface interface {
	CachedState(ctx context.Context, portfolioID string, prices map[string]decimal.Decimal) (*service.PortfolioState, error)
	CurrentState(ctx context.Context, portfolioID string, prices map[string]decimal.Decimal) (*service.PortfolioState, error)
	History(ctx context.Context, portfolioID string, days int) (*service.ValueHistory, error)
	Performance(ctx context.Context, portfolioID string) (*service.PerformanceMetrics, error)
	RecentTrades(ctx context.Context, portfolioID string, limit int) ([]*models.Trade, error)
}

// SnapshotServiceInterface defines snapshot operations
type SnapshotServiceInterface interface {
	Capture(ctx context.Context, portfolioID string, prices map[string]decimal.Decimal) (*models.PortfolioSnapshot, error)
	Seed(ctx context.Context, portfolioID string, cash decimal.Decimal) (*models.PortfolioSnapshot, error)
}

// ValidationServiceInterface defines reconciliation operations
type ValidationServiceInterface interface {
	Validate(ctx context.Context, portfolioID string) (*service.ValidationReport, error)
}

// EngineServiceInterface defines decision-cycle operations
type EngineServiceInterface interface {
	RunCycle(ctx context.Context, portfolioID string) (*service.CycleResult, error)
}

// PortfolioRepositoryInterface defines the portfolio lookups the API serves
// directly
type PortfolioRepositoryInterface interface {
	Create(ctx context.Context, portfolio *models.Portfolio) error
	GetByID(ctx context.Context, id string) (*models.Portfolio, error)
	List(ctx context.Context) ([]*models.Portfolio, error)
}

// DecisionRepositoryInterface defines the decision lookups the API serves
// directly
type DecisionRepositoryInterface interface {
	Recent(ctx context.Context, portfolioID string, limit int) ([]*models.Decision, error)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
	Symbols         []string
}

// Server represents the HTTP API server.
type Server struct {
	router           *mux.Router
	httpServer       *http.Server
	portfolioService PortfolioServiceInterface
	snapshotService  SnapshotServiceInterface
	validation       ValidationServiceInterface
	engine           EngineServiceInterface
	portfolioRepo    PortfolioRepositoryInterface
	decisionRepo     DecisionRepositoryInterface
	prices           service.PriceProvider
	config           *ServerConfig
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	portfolioService PortfolioServiceInterface,
	snapshotService SnapshotServiceInterface,
	validation ValidationServiceInterface,
	engine EngineServiceInterface,
	portfolioRepo PortfolioRepositoryInterface,
	decisionRepo DecisionRepositoryInterface,
	prices service.PriceProvider,
) *Server {
	s := &Server{
		router:           mux.NewRouter(),
		portfolioService: portfolioService,
		snapshotService:  snapshotService,
		validation:       validation,
		engine:           engine,
		portfolioRepo:    portfolioRepo,
		decisionRepo:     decisionRepo,
		prices:           prices,
		config:           config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec)

	// Middleware order matters: recovery outermost, rate limiting last.
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/portfolios", s.handleCreatePortfolio).Methods("POST")
	api.HandleFunc("/portfolios", s.handleListPortfolios).Methods("GET")
	api.HandleFunc("/portfolios/{id}/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/portfolios/{id}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/portfolios/{id}/performance", s.handleGetPerformance).Methods("GET")
	api.HandleFunc("/portfolios/{id}/validate", s.handleValidate).Methods("GET")
	api.HandleFunc("/portfolios/{id}/seed", s.handleSeed).Methods("POST")
	api.HandleFunc("/portfolios/{id}/snapshots", s.handleCaptureSnapshot).Methods("POST")
	api.HandleFunc("/portfolios/{id}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/portfolios/{id}/decisions", s.handleGetDecisions).Methods("GET")
	api.HandleFunc("/portfolios/{id}/cycle", s.handleRunCycle).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router exposes the router for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// fetchPrices resolves quotes for the configured symbols, best effort
func (s *Server) fetchPrices(ctx context.Context) map[string]decimal.Decimal {
	if s.prices == nil {
		return nil
	}
	prices, err := s.prices.Prices(ctx, s.config.Symbols)
	if err != nil {
		return nil
	}
	return prices
}
