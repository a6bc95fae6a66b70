package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/looks-salon/looks/internal/apperr"
	"github.com/looks-salon/looks/internal/catalog"
	"github.com/looks-salon/looks/internal/models"
	"github.com/looks-salon/looks/internal/prompts"
	"github.com/looks-salon/looks/internal/storage"
)

// Generator runs the apply workflow
type Generator interface {
	Apply(ctx context.Context, sessionID, presetID string) (*models.ApplyResult, error)
	Quota() int
}

type Options struct {
	Sessions  *storage.SessionStore
	Catalog   *catalog.Catalog
	Prompts   *prompts.Directory
	Generator Generator

	// StaticRoot serves the front-end from disk instead of the embedded copy
	StaticRoot      string
	MaxUploadBytes  int64
	ApplyRateLimit  int
	ApplyRateWindow time.Duration
}

type Handler struct {
	sessions  *storage.SessionStore
	catalog   *catalog.Catalog
	prompts   *prompts.Directory
	generator Generator

	staticRoot      string
	maxUploadBytes  int64
	applyRateLimit  int
	applyRateWindow time.Duration
}

func New(opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.ApplyRateWindow <= 0 {
		opts.ApplyRateWindow = time.Minute
	}
	return &Handler{
		sessions:        opts.Sessions,
		catalog:         opts.Catalog,
		prompts:         opts.Prompts,
		generator:       opts.Generator,
		staticRoot:      opts.StaticRoot,
		maxUploadBytes:  opts.MaxUploadBytes,
		applyRateLimit:  opts.ApplyRateLimit,
		applyRateWindow: opts.ApplyRateWindow,
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

type errorBody struct {
	Error   apperr.Code `json:"error"`
	Message string      `json:"message"`
}

// writeError maps err onto its status and public error code
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	if e.Status >= http.StatusInternalServerError || e.Upstream() {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "code", e.Code, "err", err)
	} else {
		slog.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "code", e.Code, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	if err := json.NewEncoder(w).Encode(errorBody{Error: e.PublicCode(), Message: e.Message}); err != nil {
		slog.Error("Unable to encode JSON error", "err", err)
	}
}

// param reads a value from the query string, falling back to form fields
func param(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return r.FormValue(name)
}

func (h *Handler) HandleHealthcheck(w http.ResponseWriter, r *http.Request) {
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Unable to write healthcheck", "err", err)
	}
}
