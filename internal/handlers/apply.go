package handlers

import (
	"net/http"

	"github.com/looks-salon/looks/internal/apperr"
)

// HandleApply generates (or replays) a hairstyle. sessionId and presetId
// come from the query string or form fields.
func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	sessionID := param(r, "sessionId")
	presetID := param(r, "presetId")
	if sessionID == "" || presetID == "" {
		h.writeError(w, r, apperr.NewInvalidRequest("sessionId and presetId are required"))
		return
	}

	result, err := h.generator.Apply(r.Context(), sessionID, presetID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, result)
}
