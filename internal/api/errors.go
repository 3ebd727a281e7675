package api

import (
	"encoding/json"
	"net/http"

	"gatekeeper/internal/errors"
)

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
	Hint    string      `json:"hint,omitempty"`
}

// WriteError writes err with the status mapped from its code.
func WriteError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: string(errors.InternalError)}
	var ge *errors.GateError
	if errors.As(err, &ge) {
		resp.Error = ge.Message
		resp.Code = string(ge.Code)
		resp.Details = ge.Details
		resp.Hint = ge.Hint
	}
	WriteJSON(w, resp, StatusFor(errors.CodeOf(err)))
}

// StatusFor maps error codes to HTTP status codes
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.Validation:
		return http.StatusBadRequest // 400
	case errors.Unauthorized:
		return http.StatusUnauthorized // 401
	case errors.NotFound:
		return http.StatusNotFound // 404
	case errors.ParseFailure:
		return http.StatusUnprocessableEntity // 422
	case errors.RecoverableProvider, errors.Configuration:
		return http.StatusServiceUnavailable // 503
	case errors.Timeout:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// BadRequest writes a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, errors.NewValidationError(message, nil))
}
