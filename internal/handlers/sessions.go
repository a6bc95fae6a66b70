package handlers

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/models"
	"github.com/looks-salon/looks/internal/storage"
)

func (h *Handler) HandleSessionStart(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.sessions.Create(param(r, "userType"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, map[string]string{"sessionId": sessionID})
}

// HandleUpload stores the session's photo, replacing any previous upload
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, apperr.NewInvalidRequest("file too large"))
			return
		}
		h.writeError(w, r, apperr.NewInvalidRequest("invalid multipart form: "+err.Error()))
		return
	}

	sessionID := r.FormValue("sessionId")
	if !h.sessions.Exists(sessionID) {
		h.writeError(w, r, apperr.NewNotFound("session", sessionID))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, apperr.NewInvalidRequest("file is required"))
		return
	}
	defer file.Close()

	dest, err := h.sessions.StoreUpload(sessionID, file, filepath.Ext(header.Filename))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, map[string]string{
		"sessionId": sessionID,
		"imageUrl":  storage.FileURL(sessionID, filepath.Base(dest)),
	})
}

// HandleResults lists the files on disk, independent of the ledger
func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	files, err := h.sessions.ListResultFiles(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, files)
}

type historyResponse struct {
	SessionID string                `json:"sessionId"`
	Quota     int                   `json:"quota"`
	Remaining int                   `json:"remaining"`
	Meta      *models.SessionMeta   `json:"meta,omitempty"`
	Results   []models.Result       `json:"results"`
	Calls     []models.ProviderCall `json:"calls"`
}

// HandleHistory returns the ledger and audit log of a session
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	meta, err := h.sessions.LoadMeta(sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	results, err := h.sessions.LoadResults(sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	calls, err := h.sessions.LoadCalls(sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	quota := h.generator.Quota()
	h.writeJSON(w, historyResponse{
		SessionID: sessionID,
		Quota:     quota,
		Remaining: max(quota-len(results), 0),
		Meta:      meta,
		Results:   results,
		Calls:     calls,
	})
}
