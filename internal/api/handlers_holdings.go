package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleGetHoldings handles GET /api/holdings - aggregated view across brokers
func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	portfolio, err := s.services.Portfolio.Holdings(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, portfolio)
}

// handleGetSummary handles GET /api/holdings/summary
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.services.Portfolio.Summary(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// handleGetCashBreakdown handles GET /api/holdings/cash-breakdown
func (s *Server) handleGetCashBreakdown(w http.ResponseWriter, r *http.Request) {
	entries, err := s.services.Portfolio.CashBreakdown(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"breakdown": entries})
}

// handleGetAssetBreakdown handles GET /api/holdings/asset-breakdown
func (s *Server) handleGetAssetBreakdown(w http.ResponseWriter, r *http.Request) {
	entries, err := s.services.Portfolio.AssetBreakdown(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"breakdown": entries})
}

// handleGetTopHoldings handles GET /api/holdings/top
func (s *Server) handleGetTopHoldings(w http.ResponseWriter, r *http.Request) {
	top, err := s.services.Portfolio.TopHoldings(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, top)
}

// handleGetUnderlying handles GET /api/holdings/{symbol}/underlying
func (s *Server) handleGetUnderlying(w http.ResponseWriter, r *http.Request) {
	detail, err := s.services.Portfolio.FundDetail(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// handleGetRisk handles GET /api/risk
func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	m, err := s.services.Risk.Metrics(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}
