// Package httpx provides JSON response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// ErrorBody is the error payload: a stable machine-readable code plus a human
// message, with optional code-specific fields.
type ErrorBody struct {
	Code              string `json:"code"`
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

// Error writes a JSON error response with a machine code and a human message.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{Code: code, Error: message})
}
