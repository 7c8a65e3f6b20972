// Package respond writes the JSON responses of the bot's HTTP surface.
package respond

import (
	"encoding/json"
	"net/http"
)

// Error is the uniform error payload every non-2xx response carries.
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// WriteJSON writes v with the given status code. The status line is
// committed before encoding, so an encoding failure cannot be reported to
// the client anymore and is dropped.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the uniform error payload.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Error{Status: status, Message: message})
}

// WriteBadRequest writes a 400 response.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a 401 response.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// WriteInternalError writes a 500 response.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}
