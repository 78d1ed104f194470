package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/vidyodl/internal/api/handler"
	mw "github.com/iconidentify/vidyodl/internal/api/middleware"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Health   *handler.HealthHandler
	Proxy    *handler.ProxyHandler
	Download *handler.DownloadHandler
	Metrics  http.Handler
}

// NewRouter creates the HTTP router with all routes configured.
// requestTimeout bounds every request; synchronous downloads need it to
// cover a full job.
func NewRouter(h Handlers, apiKey string, requestTimeout time.Duration, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}
	r.Use(mw.CORS)

	// Health endpoints (no auth)
	r.Get("/health", h.Health.Live)
	r.Get("/ready", h.Health.Ready)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	// API v1 (authenticated when an API key is configured)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		r.Get("/proxies", h.Proxy.List)
		r.Post("/proxies/refresh", h.Proxy.Refresh)

		r.Post("/download", h.Download.Download)
		r.Post("/download-audio", h.Download.DownloadAudio)
		r.Post("/download-video", h.Download.DownloadVideo)
		r.Post("/download-playlist", h.Download.DownloadPlaylist)

		r.Get("/jobs", h.Download.ListJobs)
		r.Get("/jobs/{jobID}", h.Download.GetJob)
		r.Delete("/jobs/{jobID}", h.Download.CancelJob)
	})

	return r
}
