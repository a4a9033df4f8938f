package httpHelpers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/keptn/bridge/pkg/shared/defs"
)

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, defs.ErrorBody{Message: msg})
}

func WriteOutput(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSON encodes data before touching w, so an encoding failure can still
// turn into a 500.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("Error encoding JSON", "error", err)
		http.Error(w, "Error encoding JSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		slog.Debug("Error writing JSON response", "error", err)
	}
}
