// Package api exposes the bot's HTTP surface: the inbound gateway webhook
// and health endpoints.
package api

import (
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/punchbot/punchbot/internal/api/recovery"
)

// NewRouter creates the HTTP router.
func NewRouter(events *EventsHandler, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(recovery.Middleware(log))

	healthHandler := NewHealthHandler()
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	// Inbound gateway events
	router.HandleFunc("/api/events", events.HandleEvent).Methods("POST")

	return router
}
