package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/portfolio-engine/internal/models"
	"github.com/shopspring/decimal"
)

// CreatePortfolioRequest is the body for POST /api/portfolios
type CreatePortfolioRequest struct {
	Name         string `json:"name"`
	StrategyName string `json:"strategy_name"`
	SeedCash     string `json:"seed_cash,omitempty"`
}

// handleCreatePortfolio creates a portfolio and, when seed_cash is given,
// its seed snapshot.
func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body", nil)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "name is required", nil)
		return
	}

	var seedCash decimal.Decimal
	if req.SeedCash != "" {
		var err error
		seedCash, err = decimal.NewFromString(req.SeedCash)
		if err != nil || seedCash.Sign() <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "seed_cash must be a positive decimal", nil)
			return
		}
	}

	portfolio := &models.Portfolio{
		Name:         req.Name,
		StrategyName: req.StrategyName,
	}
	if err := s.portfolioRepo.Create(r.Context(), portfolio); err != nil {
		respondServiceError(w, err)
		return
	}

	if req.SeedCash != "" {
		if _, err := s.snapshotService.Seed(r.Context(), portfolio.ID, seedCash); err != nil {
			respondServiceError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusCreated, portfolio)
}

// handleListPortfolios lists all portfolios
func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := s.portfolioRepo.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if portfolios == nil {
		portfolios = []*models.Portfolio{}
	}
	respondJSON(w, http.StatusOK, portfolios)
}

// handleGetState returns the current state, served from the state cache when
// warm and derived at live quotes otherwise
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["id"]

	state, err := s.portfolioService.CachedState(r.Context(), portfolioID, s.fetchPrices(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// handleGetHistory returns the snapshot series for the requested window
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["id"]

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "days must be an integer", nil)
			return
		}
		days = parsed
	}

	history, err := s.portfolioService.History(r.Context(), portfolioID, days)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

// handleGetPerformance returns performance metrics over the full history
func (s *Server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["id"]

	metrics, err := s.portfolioService.Performance(r.Context(), portfolioID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, metrics)
}

// handleValidate runs the reconciliation checks and returns the report
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["id"]

	report, err := s.validation.Validate(r.Context(), portfolioID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// SeedRequest is the body for POST /api/portfolios/{id}/seed
type SeedRequest struct {
	Cash string `json:"cash"`
}

// handleSeed writes the initial all-cash snapshot
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["id"]

	var req SeedRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body", nil)
		return
	}
	cash, err := decimal.NewFromString(req.Cash)
	if err != nil || cash.Sign() <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "cash must be a positive decimal", nil)
		return
	}

	snapshot, err := s.snapshotService.Seed(r.Context(), portfolioID, cash)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, snapshot)
}

// handleCaptureSnapshot captures the next snapshot at live quotes
func (s *Server) handleCaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["id"]

	snapshot, err := s.snapshotService.Capture(r.Context(), portfolioID, s.fetchPrices(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, snapshot)
}

// handleRunCycle runs one decision cycle synchronously
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["id"]

	result, err := s.engine.RunCycle(r.Context(), portfolioID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// parseLimit reads a bounded limit query parameter with a default
func parseLimit(r *http.Request, fallback, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

// handleGetTrades returns recent executed trades, newest first
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["id"]

	trades, err := s.portfolioService.RecentTrades(r.Context(), portfolioID, parseLimit(r, 20, 200))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}

	respondJSON(w, http.StatusOK, trades)
}

// DecisionView is a decision with its rendered action summary
type DecisionView struct {
	*models.Decision
	ActionSummary string `json:"action_summary"`
}

// handleGetDecisions returns recent decisions, newest first
func (s *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	portfolioID := mux.Vars(r)["id"]

	decisions, err := s.decisionRepo.Recent(r.Context(), portfolioID, parseLimit(r, 20, 200))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	views := make([]DecisionView, 0, len(decisions))
	for _, decision := range decisions {
		views = append(views, DecisionView{
			Decision:      decision,
			ActionSummary: decision.ActionSummary(),
		})
	}

	respondJSON(w, http.StatusOK, views)
}
