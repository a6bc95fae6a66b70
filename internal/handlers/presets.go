package handlers

import (
	"log/slog"
	"net/http"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/models"
)

// HandlePresets lists presets, optionally filtered by category and major
func (h *Handler) HandlePresets(w http.ResponseWriter, r *http.Request) {
	presets := h.catalog.List(r.URL.Query().Get("category"), r.URL.Query().Get("major"))

	views := make([]models.PresetView, 0, len(presets))
	for _, p := range presets {
		view := p.View()
		if view.DisplayID == "" {
			if entry, ok := h.prompts.Entry(p.Filename); ok {
				view.DisplayID = entry.DisplayID
			}
		}
		views = append(views, view)
	}
	h.writeJSON(w, views)
}

func (h *Handler) HandleMajors(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		h.writeError(w, r, apperr.NewInvalidRequest("category is required"))
		return
	}
	h.writeJSON(w, h.catalog.Majors(category))
}

func (h *Handler) HandlePromptStatus(w http.ResponseWriter, r *http.Request) {
	status := h.prompts.Status()
	h.writeJSON(w, map[string]any{
		"source":         status.Source,
		"sourceExists":   status.SourceExists,
		"entries":        status.Entries,
		"eligibleSheets": status.EligibleSheets,
		"loadedAt":       status.LoadedAt,
		"presets":        h.catalog.Len(),
	})
}

func (h *Handler) HandlePromptLookup(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		h.writeError(w, r, apperr.NewInvalidRequest("filename is required"))
		return
	}
	h.writeJSON(w, h.prompts.FuzzyLookup(filename))
}

// HandleReload re-scans the preset tree and reloads the prompt spreadsheet.
// Nothing is replaced unless both succeed.
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	scanned, err := h.catalog.Scan()
	if err != nil {
		h.writeError(w, r, apperr.NewInternal(err))
		return
	}
	if err := h.prompts.Load(); err != nil {
		h.writeError(w, r, apperr.NewInternal(err))
		return
	}
	presets := h.catalog.Replace(scanned)

	slog.Info("Catalog and prompts reloaded", "presets", presets, "prompts", h.prompts.Len())
	h.writeJSON(w, map[string]int{
		"presets": presets,
		"prompts": h.prompts.Len(),
	})
}
