package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/coinharbor/custody/internal/logger"
)

// RequestID attaches a request ID to every request. An upstream proxy's
// X-Request-ID is honored when present; otherwise a fresh one is generated.
// The ID is stored in context for log correlation and echoed back in the
// response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateRequestID returns 16 bytes of crypto/rand entropy as hex.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-request-id"
	}
	return hex.EncodeToString(b)
}
