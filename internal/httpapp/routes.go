package httpapp

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/downloads", h.StartDownload)
	r.Get("/api/downloads", h.ListDownloads)
	r.Get("/api/downloads/stats", h.Stats)

	r.Post("/api/webhooks/lidarr", h.LidarrWebhook)

	r.Post("/api/admin/sweep", h.Sweep)
	r.Post("/api/admin/reconcile", h.Reconcile)

	r.Get("/healthz", h.Healthz)
	r.Method("GET", "/metrics", h.MetricsHandler())
}
