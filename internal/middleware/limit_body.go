package middleware

import "net/http"

// MaxBodySize caps request bodies at 1MB. No custody request legitimately
// carries more.
const MaxBodySize = 1 << 20

// LimitBody rejects oversized request bodies.
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
		next.ServeHTTP(w, r)
	})
}
