package api

import (
	"net/http"
	"time"

	"github.com/punchbot/punchbot/internal/api/respond"
)

// HealthHandler serves liveness checks.
type HealthHandler struct {
	startTime time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startTime: time.Now()}
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	UptimeSec int64  `json:"uptimeSec"`
}

// CheckHealth reports the service as healthy. The portal is deliberately
// not probed here: it is a third-party system and its availability is not
// this service's liveness.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   "punchbot",
		UptimeSec: int64(time.Since(h.startTime).Seconds()),
	})
}
