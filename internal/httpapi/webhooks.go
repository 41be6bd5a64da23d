package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/opsgovernor/governor/internal/apperr"
	"github.com/opsgovernor/governor/internal/model"
)

// deliverRequest is the body for `POST /webhooks/deliver`.
type deliverRequest struct {
	Provider       string          `json:"provider"`
	EventType      string          `json:"event_type"`
	TargetURL      string          `json:"target_url"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       model.Metadata  `json:"metadata,omitempty"`
}

func (s *Server) handleWebhookDeliver(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid JSON body"))
		return
	}
	ev, err := s.webhooks.Enqueue(r.Context(), req.Provider, req.EventType, req.TargetURL, req.Payload, req.IdempotencyKey, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}

// handleListDeadLetterAsEvents implements `GET /webhooks/events`: the event
// feed surfaced to operators is the dead-letter queue, the only subset
// that needs attention (everything else drains on its own).
func (s *Server) handleListDeadLetterAsEvents(w http.ResponseWriter, r *http.Request) {
	s.handleWebhookDLQ(w, r)
}

func (s *Server) handleGetWebhookEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.webhooks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleWebhookDLQ(w http.ResponseWriter, r *http.Request) {
	events, err := s.webhooks.ListDeadLetter(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleWebhookReplay(w http.ResponseWriter, r *http.Request) {
	ev, err := s.webhooks.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleWebhookStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.webhooks.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleIncomingWebhook receives third-party webhook callbacks (GitHub,
// Slack, CI providers) behind the gorilla/mux sub-router mounted at
// /webhooks/incoming/{provider}, re-enqueuing them through the same
// delivery engine used for outbound calls so retries and the dead-letter
// queue apply uniformly.
func (s *Server) handleIncomingWebhook(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, apperr.Validation("could not read request body"))
		return
	}
	eventType := r.Header.Get("X-Event-Type")
	if eventType == "" {
		eventType = "incoming"
	}
	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = provider + ":" + uuid.NewString()
	}
	ev, err := s.webhooks.Enqueue(r.Context(), provider, eventType, "", body, idempotencyKey, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}
