package server

import (
	"crypto/subtle"
	"net/http"

	"chat-otp-gateway/internal/server/httpx"
)

const apiKeyHeader = "X-Api-Key"

// APIKeyAuth returns middleware that requires the X-Api-Key header to match
// key. An empty key disables the check (development mode).
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(apiKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httpx.Error(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
