package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/intake"
)

// maxWebhookBody caps a single notification
const maxWebhookBody = 1 << 20

// webhookBody is the change-feed envelope every upstream posts
type webhookBody struct {
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	Record    models.Payload `json:"record"`
	OldRecord models.Payload `json:"old_record"`
}

type webhookResponse struct {
	Status  string `json:"status"`
	EventID int64  `json:"event_id,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// handleWebhook persists one notification. Processing happens later in the
// dispatcher, so a 200 only means the event is durably stored.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, webhookResponse{Status: "error", Detail: "invalid webhook secret"})
		return
	}

	var body webhookBody
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}

	source := r.PathValue("source")
	id, err := s.intake.Ingest(r.Context(), source, body.Type, body.Table, nonEmpty(body.Record), nonEmpty(body.OldRecord))
	if err != nil {
		var ie *intake.Error
		if errors.As(err, &ie) {
			writeJSON(w, http.StatusBadRequest, webhookResponse{Status: "error", Detail: ie.Error()})
			return
		}
		// Storage failure: the sender should retry
		respondWithError(w, http.StatusServiceUnavailable, "Event store unavailable", err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Status: "ok", EventID: id})
}

// authorized checks X-Webhook-Secret when a secret is configured
func (s *Server) authorized(r *http.Request) bool {
	if s.webhookSecret == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookSecret)) == 1
}

// nonEmpty maps null and {} to absent
func nonEmpty(p models.Payload) models.Payload {
	if len(p) == 0 {
		return nil
	}
	return p
}
