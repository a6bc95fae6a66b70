package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/looks-salon/looks/internal/apperr"
)

// Router wires the API, static mounts and operational endpoints
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthcheck", h.HandleHealthcheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/presets", h.HandlePresets)
		r.Get("/presets/majors", h.HandleMajors)
		r.Get("/prompts/status", h.HandlePromptStatus)
		r.Get("/prompts/lookup", h.HandlePromptLookup)

		r.Post("/session/start", h.HandleSessionStart)
		r.Post("/session/upload", h.HandleUpload)
		r.Get("/session/{id}/results", h.HandleResults)
		r.Get("/session/{id}/history", h.HandleHistory)

		r.With(h.applyRateLimiter()).Post("/hairstyle/apply", h.HandleApply)

		r.Post("/admin/reload", h.HandleReload)
	})

	r.Handle("/img/*", fileMount("/img/", h.catalog.Root()))
	r.Handle("/sessions/*", fileMount("/sessions/", h.sessions.Root()))
	r.Handle("/*", h.frontend())

	return r
}

// applyRateLimiter limits apply calls per session id, falling back to the
// client IP when no session id is given
func (h *Handler) applyRateLimiter() func(http.Handler) http.Handler {
	if h.applyRateLimit <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		h.applyRateLimit,
		h.applyRateWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if sessionID := param(r, "sessionId"); sessionID != "" {
				return "session:" + sessionID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			h.writeError(w, r, apperr.NewRateLimited("too many apply requests for this session"))
		}),
	)
}

// fileMount serves files under dir without directory listings
func fileMount(prefix, dir string) http.Handler {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
