package api

import (
	"net/http"
	"time"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/service"
)

// handleListAccounts handles GET /api/accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.services.Accounts.List(r.Context())
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("list accounts", err))
		return
	}
	if accounts == nil {
		accounts = []*models.BrokerAccount{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

// handleGetHistory handles GET /api/history?from=&to= (RFC 3339 or YYYY-MM-DD)
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("to", "must not be before from"))
		return
	}

	rows, err := s.services.History.List(r.Context(), from, to)
	if err != nil {
		respondServiceError(w, r, apperrors.NewDatabaseError("list history", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"history": rows})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, apperrors.NewInvalidParameterError(name, "expected RFC 3339 or YYYY-MM-DD")
}

// handleGetSettings handles GET /api/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.services.Settings.Get(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings handles PUT /api/settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateInput
	if err := parseJSONBody(r, &req); err != nil {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("body", "invalid request body"))
		return
	}

	settings, err := s.services.Settings.Update(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}
