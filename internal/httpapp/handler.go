// Package httpapp exposes the orchestrator over HTTP: the download API,
// the acquisition system's webhook endpoint, and the admin/observability
// surface.
package httpapp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/constants"
	"github.com/soundspan/soundspan/internal/domain"
	"github.com/soundspan/soundspan/internal/logger"
	"github.com/soundspan/soundspan/internal/metrics"
	"github.com/soundspan/soundspan/internal/orchestrator"
	"github.com/soundspan/soundspan/internal/store"
)

type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Store        *store.DB
	Acquirer     acquisition.Client
	Metrics      *metrics.Metrics
	Logger       *logger.Logger
}

func NewHandler(orch *orchestrator.Orchestrator, db *store.DB, acquirer acquisition.Client, m *metrics.Metrics) *Handler {
	return &Handler{
		Orchestrator: orch,
		Store:        db,
		Acquirer:     acquirer,
		Metrics:      m,
		Logger:       logger.Default().WithComponent("http"),
	}
}

type startDownloadRequest struct {
	UserID             string `json:"user_id"`
	ArtistName         string `json:"artist_name"`
	AlbumTitle         string `json:"album_title"`
	AlbumMBID          string `json:"album_mbid"`
	ArtistMBID         string `json:"artist_mbid"`
	DiscoveryBatchID   string `json:"discovery_batch_id"`
	SpotifyImportJobID string `json:"spotify_import_job_id"`
	PlaylistName       string `json:"playlist_name"`
	NoFallback         bool   `json:"no_fallback"`
	Source             string `json:"source"`
}

type startDownloadResponse struct {
	Job     *domain.DownloadJob `json:"job"`
	Started bool                `json:"started"`
	Retried bool                `json:"retried"`
	Failed  bool                `json:"failed"`
	Reason  string              `json:"reason,omitempty"`
}

// StartDownload creates a pending job for the requested album and drives
// it through the start path in one call.
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ArtistName == "" || req.AlbumTitle == "" {
		h.writeError(w, http.StatusBadRequest, "artist_name and album_title are required")
		return
	}

	isDiscovery := req.DiscoveryBatchID != ""
	downloadType := domain.DownloadTypeLibrary
	if isDiscovery {
		downloadType = domain.DownloadTypeDiscovery
	} else if req.SpotifyImportJobID != "" {
		downloadType = domain.DownloadTypeSpotifyImport
	}

	job := &domain.DownloadJob{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Subject:       domain.BuildSubject(req.ArtistName, req.AlbumTitle),
		Type:          domain.JobTypeAlbum,
		Status:        domain.JobStatusPending,
		TargetMBID:    req.AlbumMBID,
		ArtistMBID:    req.ArtistMBID,
		CorrelationID: uuid.New().String(),
		CreatedAt:     time.Now().UTC(),
		Meta: domain.JobMeta{
			ArtistName:   req.ArtistName,
			AlbumTitle:   req.AlbumTitle,
			DownloadType: downloadType,
			NoFallback:   req.NoFallback,
			Source:       req.Source,
		},
	}
	if req.DiscoveryBatchID != "" {
		job.DiscoveryBatchID = &req.DiscoveryBatchID
	}
	if req.SpotifyImportJobID != "" {
		job.Meta.SpotifyImport = &domain.SpotifyImportMeta{
			ImportJobID:  req.SpotifyImportJobID,
			PlaylistName: req.PlaylistName,
		}
	}

	if err := h.Store.Q().CreateJob(r.Context(), job); err != nil {
		h.Logger.Error("Failed to create job", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	res, err := h.Orchestrator.StartDownload(r.Context(), orchestrator.StartParams{
		JobID:       job.ID,
		ArtistName:  req.ArtistName,
		AlbumTitle:  req.AlbumTitle,
		AlbumMBID:   req.AlbumMBID,
		UserID:      req.UserID,
		IsDiscovery: isDiscovery,
	})
	if err != nil {
		// The job carries the failure; report it with the outcome rather
		// than a bare 500.
		h.Logger.Warn("Download start failed", "job_id", job.ID, "error", err)
	}

	current, getErr := h.Store.Q().GetJob(r.Context(), job.ID)
	if getErr != nil || current == nil {
		current = job
	}
	status := http.StatusAccepted
	if res.Failed {
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, startDownloadResponse{
		Job:     current,
		Started: res.Started,
		Retried: res.Retried,
		Failed:  res.Failed,
		Reason:  res.Reason,
	})
}

// lidarrWebhook is the superset of the webhook payloads the acquisition
// system posts; EventType selects the branch.
type lidarrWebhook struct {
	EventType  string `json:"eventType"`
	DownloadID string `json:"downloadId"`
	Message    string `json:"message"`

	Artist struct {
		Name string `json:"name"`
		MBID string `json:"mbId"`
	} `json:"artist"`

	Albums []struct {
		ID             int64  `json:"id"`
		Title          string `json:"title"`
		ForeignAlbumID string `json:"foreignAlbumId"`
	} `json:"albums"`
}

// LidarrWebhook dispatches grab, import-complete and failure payloads to
// the orchestrator. Unknown event types are acknowledged and ignored so
// the acquisition system never retries them.
func (h *Handler) LidarrWebhook(w http.ResponseWriter, r *http.Request) {
	var ev lidarrWebhook
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	albumTitle, albumMBID := "", ""
	var albumID int64
	if len(ev.Albums) > 0 {
		albumTitle = ev.Albums[0].Title
		albumMBID = ev.Albums[0].ForeignAlbumID
		albumID = ev.Albums[0].ID
	}

	var result *orchestrator.MatchResult
	var err error
	switch ev.EventType {
	case "Grab":
		result, err = h.Orchestrator.OnDownloadGrabbed(r.Context(), orchestrator.GrabbedEvent{
			DownloadID:    ev.DownloadID,
			AlbumMBID:     albumMBID,
			AlbumTitle:    albumTitle,
			ArtistName:    ev.Artist.Name,
			LidarrAlbumID: albumID,
		})
	case "AlbumImportComplete", "Download":
		var lidarrAlbumID *int64
		if albumID != 0 {
			lidarrAlbumID = &albumID
		}
		result, err = h.Orchestrator.OnDownloadComplete(r.Context(), orchestrator.CompleteEvent{
			DownloadID:    ev.DownloadID,
			AlbumMBID:     albumMBID,
			ArtistName:    ev.Artist.Name,
			AlbumTitle:    albumTitle,
			LidarrAlbumID: lidarrAlbumID,
		})
	case "DownloadFailed", "ImportFailure":
		result, err = h.Orchestrator.OnImportFailed(r.Context(), orchestrator.FailedEvent{
			DownloadID: ev.DownloadID,
			Reason:     ev.Message,
			AlbumMBID:  albumMBID,
		})
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event_type": ev.EventType})
		return
	}
	if err != nil {
		h.Logger.Error("Webhook handling failed", "event_type", ev.EventType, "error", err)
		h.writeError(w, http.StatusInternalServerError, "webhook handling failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ListDownloads returns the most recent jobs, optionally filtered by
// status.
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		OrderByCreatedDesc: true,
		Limit:              constants.MaxJobListResults,
	}
	if s := r.URL.Query().Get("status"); s != "" {
		filter.Statuses = []domain.JobStatus{domain.JobStatus(s)}
	}

	jobs, err := h.Store.Q().FindJobs(r.Context(), filter)
	if err != nil {
		h.Logger.Error("Failed to list jobs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// Stats reports job counts per status.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Orchestrator.GetStats(r.Context())
	if err != nil {
		h.Logger.Error("Failed to load stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Sweep runs one stale-job sweep pass on demand.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	snapshot := h.snapshot(r)
	result, err := h.Orchestrator.MarkStaleJobsAsFailed(r.Context(), snapshot)
	if err != nil {
		h.Logger.Error("Sweep failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Reconcile runs one reconcile + queue-sync pass on demand.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	snapshot := h.snapshot(r)
	recon, err := h.Orchestrator.ReconcileWithLidarr(r.Context(), snapshot)
	if err != nil {
		h.Logger.Error("Reconcile failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}
	sync, err := h.Orchestrator.SyncWithLidarrQueue(r.Context(), snapshot)
	if err != nil {
		h.Logger.Error("Queue sync failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "queue sync failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reconcile":  recon,
		"queue_sync": sync,
	})
}

// snapshot fetches queue state best-effort; a nil snapshot degrades the
// maintenance passes instead of failing them.
func (h *Handler) snapshot(r *http.Request) *acquisition.Snapshot {
	snapshot, err := h.Acquirer.GetSnapshot(r.Context())
	if err != nil {
		h.Logger.Warn("Snapshot unavailable", "error", err)
		return nil
	}
	return snapshot
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(h.Metrics.Registry, promhttp.HandlerOpts{})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
