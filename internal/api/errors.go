package api

import (
	"encoding/json"
	"net/http"

	"github.com/portfolio-engine/internal/errors"
	"github.com/portfolio-engine/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// respondServiceError maps a service-layer error to its HTTP response using
// the domain error taxonomy.
func respondServiceError(w http.ResponseWriter, err error) {
	catErr := errors.Categorize(err)
	svcErr := catErr.ToServiceError()

	// Internal causes never leak to API consumers.
	if catErr.StatusCode >= 500 {
		svcErr.Message = "An internal error occurred"
		svcErr.Details = nil
	}

	respondError(w, catErr.StatusCode, svcErr.Code, svcErr.Message, svcErr.Details)
}
