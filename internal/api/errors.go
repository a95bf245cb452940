package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error apperrors.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: apperrors.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondServiceError maps a service error to its HTTP response. Server
// side failures are logged and their detail hidden from the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ce := apperrors.Categorize(err)
	if ce.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("Request failed")
		respondError(w, ce.StatusCode, ce.Code, "An internal error occurred", nil)
		return
	}
	respondError(w, ce.StatusCode, ce.Code, ce.Message, ce.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
