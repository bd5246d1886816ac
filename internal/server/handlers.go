package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"spin-campaign-service/internal/model"
	"spin-campaign-service/internal/service"
)

type spinRequestBody struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Timestamp      int64  `json:"timestamp"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func errorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// handleGetConfig returns the campaign config plus the caller's remaining
// spins, for rendering the wheel.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	claims, ok := userFromContext(r.Context())
	if !ok {
		errorJSON(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	view, err := s.spins.GetSpinConfig(r.Context(), claims.Subject)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load spin config")
		errorJSON(w, http.StatusInternalServerError, "Failed to load config")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handlePostSpin validates the signed spin request and runs the allocation
// engine.
func (s *Server) handlePostSpin(w http.ResponseWriter, r *http.Request) {
	claims, ok := userFromContext(r.Context())
	if !ok {
		errorJSON(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	var body spinRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IdempotencyKey == "" || body.Timestamp == 0 {
		errorJSON(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	if !withinDrift(body.Timestamp, time.Now(), s.allowedDrift) {
		errorJSON(w, http.StatusBadRequest, "Timestamp outside allowed drift")
		return
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		errorJSON(w, http.StatusBadRequest, "Missing signature")
		return
	}
	if !validSignature(s.hmacSecret, claims.Subject, body.IdempotencyKey, body.Timestamp, signature) {
		errorJSON(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	result, err := s.spins.PerformSpin(r.Context(), service.SpinRequest{
		UserID:           claims.Subject,
		IdempotencyKey:   body.IdempotencyKey,
		Timestamp:        body.Timestamp,
		RequestSignature: signature,
		ClientInfo: model.ClientInfo{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		writeSpinError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeSpinError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRateLimited):
		errorJSON(w, http.StatusTooManyRequests, "Too many requests")
	case errors.Is(err, service.ErrCampaignInactive):
		errorJSON(w, http.StatusBadRequest, "Campaign is inactive")
	case errors.Is(err, service.ErrDailyLimitReached):
		errorJSON(w, http.StatusBadRequest, "Daily spin limit reached")
	default:
		log.Error().Err(err).Msg("Spin failed")
		errorJSON(w, http.StatusInternalServerError, "Unable to spin")
	}
}

// handleGetMyPrizes returns the caller's prize history.
func (s *Server) handleGetMyPrizes(w http.ResponseWriter, r *http.Request) {
	claims, ok := userFromContext(r.Context())
	if !ok {
		errorJSON(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	prizes, err := s.spins.GetUserPrizes(r.Context(), claims.Subject)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load prizes")
		errorJSON(w, http.StatusInternalServerError, "Failed to load prizes")
		return
	}
	writeJSON(w, http.StatusOK, prizes)
}

// handleGetAdminSummary returns per-reward usage for a day, defaulting to
// today in campaign time.
func (s *Server) handleGetAdminSummary(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().In(s.loc).Format("2006-01-02")
	}

	summary, err := s.spins.GetSummaryForDate(r.Context(), date)
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("Failed to load summary")
		errorJSON(w, http.StatusInternalServerError, "Failed to load summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleHealth reports service liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
