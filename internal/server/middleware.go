// Package server provides the HTTP transport for the spin campaign API.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type contextKey string

const userContextKey contextKey = "user"

// UserClaims are the verified identity claims attached to a request.
type UserClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// userFromContext returns the verified claims set by the auth middleware.
func userFromContext(ctx context.Context) (*UserClaims, bool) {
	claims, ok := ctx.Value(userContextKey).(*UserClaims)
	return claims, ok
}

// requireAuth verifies the Bearer token and attaches the claims to the
// request context. The engine trusts the verified subject as the user id.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			errorJSON(w, http.StatusUnauthorized, "Missing Authorization header")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		claims := &UserClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.jwtSecret), nil
		})
		if err != nil || !parsed.Valid || claims.Subject == "" {
			log.Debug().Err(err).Msg("Rejected request with invalid token")
			errorJSON(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin restricts a route to admin-role tokens.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := userFromContext(r.Context())
		if !ok {
			errorJSON(w, http.StatusUnauthorized, "Unauthenticated")
			return
		}
		if claims.Role != "admin" {
			errorJSON(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// signaturePayload is the canonical string covered by the request HMAC.
func signaturePayload(userID, idempotencyKey string, timestamp int64) string {
	return fmt.Sprintf("%s|%s|%d", userID, idempotencyKey, timestamp)
}

// validSignature verifies the hex HMAC-SHA256 request signature.
func validSignature(secret, userID, idempotencyKey string, timestamp int64, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signaturePayload(userID, idempotencyKey, timestamp)))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// withinDrift checks a millisecond client timestamp against the allowed
// clock drift.
func withinDrift(timestamp int64, now time.Time, allowed time.Duration) bool {
	drift := now.UnixMilli() - timestamp
	if drift < 0 {
		drift = -drift
	}
	return drift <= allowed.Milliseconds()
}

// clientIP extracts the originating client address, honoring the first
// X-Forwarded-For hop when present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
