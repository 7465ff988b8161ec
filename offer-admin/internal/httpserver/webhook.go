package httpserver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/auth"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/promotion"
)

type ciWebhookPayload struct {
	Build struct {
		Key    string `json:"key"`
		Status string `json:"status"`
	} `json:"build"`
	Job struct {
		Outcome string `json:"outcome"`
	} `json:"job"`
}

// handleCIWebhook answers 200 for every delivery it could read, including
// ones it ignores, so the CI system never redelivers into duplicate work.
func (s *Server) handleCIWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "BAD_REQUEST", "webhook body too large")
		return
	}

	if s.webhookSecret != "" {
		err := auth.VerifyWebhook(s.webhookSecret, r.Header.Get(auth.HeaderTimestamp), r.Method, body, r.Header.Get(auth.HeaderSignature), s.now(), s.webhookSkew)
		if err != nil {
			s.logger.Printf("[webhook] rejected signature remote=%s err=%v", r.RemoteAddr, err)
			respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid webhook signature")
			return
		}
	} else if !s.allowUnsigned {
		respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "webhook secret not configured")
		return
	}

	var payload ciWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.logger.Printf("[webhook] malformed payload ignored err=%v", err)
		respondJSON(w, http.StatusOK, promotion.WebhookResult{Result: promotion.ResultIgnored, Reason: "malformed payload"})
		return
	}
	outcome := payload.Build.Status
	if outcome == "" {
		outcome = payload.Job.Outcome
	}

	res, err := s.promotion.HandleValidationResult(r.Context(), payload.Build.Key, outcome)
	if err != nil {
		s.logger.Printf("[webhook] build=%s failed err=%v", payload.Build.Key, err)
		respondAppError(w, err)
		return
	}
	s.logger.Printf("[webhook] build=%s outcome=%s result=%s store=%s code=%s", payload.Build.Key, outcome, res.Result, res.Store, res.Code)
	respondJSON(w, http.StatusOK, res)
}
