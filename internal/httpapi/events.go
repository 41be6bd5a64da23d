package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsgovernor/governor/internal/eventbus"
	"github.com/opsgovernor/governor/internal/logging"
)

// handleEventsSubscribe implements `GET /events/subscribe`: a long-lived
// server-sent-events stream over the same typed broadcast bus the task
// engine, pipeline, and webhook engine publish to (spec §9 "event bus as
// broadcast channel"), filtered by the optional `agent`, `topics` and
// `types` query parameters (topics and types are comma-separated; a single
// `kind` is accepted as well and added to the types).
func (s *Server) handleEventsSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	filter := eventbus.Filter{Agent: q.Get("agent")}
	if kind := q.Get("kind"); kind != "" {
		filter.Kinds = []eventbus.Kind{eventbus.Kind(kind)}
	}
	for _, k := range strings.Split(q.Get("types"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			filter.Kinds = append(filter.Kinds, eventbus.Kind(k))
		}
	}
	for _, t := range strings.Split(q.Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.Topics = append(filter.Topics, t)
		}
	}

	events, unsubscribe := s.bus.Subscribe(filter)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case e, open := <-events:
			if !open {
				return
			}
			body, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + string(e.Kind) + "\ndata: " + string(body) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin enforcement is left to the reverse proxy in front of
	// this service, matching the teacher's gateway trust boundary.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type chatInbound struct {
	Channel string `json:"channel"`
	Body    string `json:"body"`
}

// handleChatWS implements `GET /chat/ws`: an authenticated bidirectional
// channel where inbound frames post chat messages and every accepted
// message (plus any chat_message bus event from other connections) is
// echoed back as an outbound frame, so a client never double-tracks state.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	actor := logging.GetActor(r.Context())
	events, unsubscribe := s.bus.Subscribe(eventbus.Filter{Kinds: []eventbus.Kind{eventbus.KindChatMessage}})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var in chatInbound
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			if _, err := s.chatSvc.Post(r.Context(), in.Channel, actor, in.Body); err != nil {
				_ = conn.WriteJSON(map[string]string{"error": err.Error()})
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e, open := <-events:
			if !open {
				return
			}
			if err := conn.WriteJSON(e.Payload); err != nil {
				return
			}
		}
	}
}
