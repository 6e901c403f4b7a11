package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

// API key transports, in the order they are checked.
const (
	APIKeyHeader     = "X-API-Key"
	APIKeyQueryParam = "api_key"
)

// APIKeyFromRequest returns the key from X-API-Key, then an
// Authorization Bearer token, then the api_key query parameter. The first
// non-empty transport wins; later ones are not consulted.
func APIKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		if key := strings.TrimSpace(authz[7:]); key != "" {
			return key
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(APIKeyQueryParam))
}

// RequireAPIKey rejects requests whose key does not pass check with 401.
// check must compare in constant time.
func RequireAPIKey(check func(string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !check(APIKeyFromRequest(r)) {
				writeJSONError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
