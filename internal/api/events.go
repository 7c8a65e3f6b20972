package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/punchbot/punchbot/internal/api/respond"
	"github.com/punchbot/punchbot/internal/gateway"
)

// Dispatcher consumes one inbound gateway event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev gateway.Event) error
}

// EventsHandler receives inbound user events from the messaging gateway
// webhook and hands them to the conversation core.
type EventsHandler struct {
	dispatcher Dispatcher
	token      string
	log        zerolog.Logger
}

// NewEventsHandler wires the webhook receiver. token is the shared secret
// the gateway must present as a bearer token.
func NewEventsHandler(dispatcher Dispatcher, token string, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{dispatcher: dispatcher, token: token, log: log}
}

// HandleEvent handles POST /api/events.
func (h *EventsHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		respond.WriteUnauthorized(w, "invalid gateway token")
		return
	}

	var ev gateway.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respond.WriteBadRequest(w, "invalid event payload")
		return
	}
	if ev.UserID == "" {
		respond.WriteBadRequest(w, "userId is required")
		return
	}
	switch ev.Kind {
	case gateway.KindCommand, gateway.KindFreeText, gateway.KindButtonPress:
	default:
		respond.WriteBadRequest(w, "unknown event kind")
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), ev); err != nil {
		h.log.Error().Err(err).Str("user_id", ev.UserID).Msg("event dispatch failed")
		respond.WriteInternalError(w, "event dispatch failed")
		return
	}

	respond.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *EventsHandler) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && token == h.token
}
