package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth guards operator endpoints (freeze, unfreeze, consolidation)
// behind a bearer token. The comparison is constant time.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if presented == "" || token == "" ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"admin token required"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
