package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinharbor/custody/internal/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID(t *testing.T) {
	t.Run("generates when absent", func(t *testing.T) {
		var captured string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = logger.GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, captured, 32, "16 bytes hex-encoded")
		assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
	})

	t.Run("honors upstream header", func(t *testing.T) {
		var captured string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = logger.GetRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "upstream-id")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "upstream-id", captured)
		assert.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
	})
}

func TestAdminAuth(t *testing.T) {
	h := AdminAuth("secret-token")(okHandler())

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer secret-token", http.StatusOK},
		{"wrong token", "Bearer wrong", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"token without scheme", "secret-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/wallets/x/freeze", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	t.Run("empty configured token rejects everything", func(t *testing.T) {
		open := AdminAuth("")(okHandler())
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer ")
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("enforces burst per ip", func(t *testing.T) {
		rl := NewRateLimiter(1, 2, true)
		h := rl.Limit(okHandler())

		statuses := make([]int, 3)
		for i := range statuses {
			req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			statuses[i] = rec.Code
		}

		assert.Equal(t, http.StatusOK, statuses[0])
		assert.Equal(t, http.StatusOK, statuses[1])
		assert.Equal(t, http.StatusTooManyRequests, statuses[2])
	})

	t.Run("separate buckets per ip", func(t *testing.T) {
		rl := NewRateLimiter(1, 1, true)
		h := rl.Limit(okHandler())

		first := httptest.NewRequest(http.MethodPost, "/", nil)
		first.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, first)
		require.Equal(t, http.StatusOK, rec.Code)

		second := httptest.NewRequest(http.MethodPost, "/", nil)
		second.RemoteAddr = "10.0.0.2:1234"
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, second)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("disabled limiter passes everything", func(t *testing.T) {
		rl := NewRateLimiter(1, 1, false)
		h := rl.Limit(okHandler())

		for i := 0; i < 10; i++ {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = "10.0.0.1:1234"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})
}

func TestLimitBody(t *testing.T) {
	h := LimitBody(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, MaxBodySize+1)
		_, err := r.Body.Read(buf)
		if err != nil && err.Error() == "http: request body too large" {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
