package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// postSpin runs handlePostSpin with authenticated claims already on the
// context, exercising the payload and signature validation paths.
func postSpin(s *Server, body, signature string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/spin", strings.NewReader(body))
	if signature != "" {
		r.Header.Set("X-Signature", signature)
	}
	claims := &UserClaims{}
	claims.Subject = "u1"
	r = r.WithContext(context.WithValue(r.Context(), userContextKey, claims))

	w := httptest.NewRecorder()
	s.handlePostSpin(w, r)
	return w
}

func TestHandlePostSpin_Validation(t *testing.T) {
	s := &Server{hmacSecret: testHMACSecret, allowedDrift: 3 * time.Minute}
	now := time.Now().UnixMilli()

	t.Run("rejects malformed body", func(t *testing.T) {
		w := postSpin(s, "{not json", "sig")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects missing idempotency key", func(t *testing.T) {
		w := postSpin(s, `{"timestamp": 1766203200000}`, "sig")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects stale timestamp", func(t *testing.T) {
		stale := time.Now().Add(-10 * time.Minute).UnixMilli()
		body := `{"idempotencyKey": "key-1", "timestamp": ` + formatInt(stale) + `}`
		w := postSpin(s, body, signRequest(testHMACSecret, "u1", "key-1", stale))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects missing signature", func(t *testing.T) {
		body := `{"idempotencyKey": "key-1", "timestamp": ` + formatInt(now) + `}`
		w := postSpin(s, body, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects wrong signature", func(t *testing.T) {
		body := `{"idempotencyKey": "key-1", "timestamp": ` + formatInt(now) + `}`
		w := postSpin(s, body, signRequest(testHMACSecret, "u1", "key-other", now))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	s := &Server{}
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
