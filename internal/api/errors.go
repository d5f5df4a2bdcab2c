package api

import (
	"encoding/json"
	"net/http"

	"github.com/stake-scanner/internal/errors"
	"github.com/stake-scanner/internal/logging"
	"github.com/stake-scanner/internal/types"
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

	json.NewEncoder(w).Encode(response) // nolint:errcheck // response write
}

// respondCategorized maps a categorized error onto the error envelope.
// Internal causes stay in the log, not in the response; validation rejections
// are the caller's problem and are not logged.
func respondCategorized(w http.ResponseWriter, r *http.Request, err error) {
	catErr := errors.Categorize(err)
	if !errors.IsValidation(err) {
		logging.FromContext(r.Context()).WithError(err).Error("Request failed")
	}
	svcErr := catErr.ToServiceError()
	respondError(w, errors.GetHTTPStatusCode(catErr), svcErr.Code, svcErr.Message, svcErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data) // nolint:errcheck // response write
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
