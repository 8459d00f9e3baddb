// Package orchestrator owns the download job state machine: webhook
// ingestion, the same-artist fallback cascade, the stale-job sweep, and
// reconciliation against the acquisition system's queue. All durable
// state lives in the store; the orchestrator itself is a stateless value
// constructed from its collaborators.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/constants"
	"github.com/soundspan/soundspan/internal/domain"
	"github.com/soundspan/soundspan/internal/logger"
	"github.com/soundspan/soundspan/internal/metrics"
	"github.com/soundspan/soundspan/internal/notify"
	"github.com/soundspan/soundspan/internal/store"
)

// BatchCompletionNotifier is the callback surface for higher-level batch
// features. Injected to keep the dependency explicit; implementations
// live outside this package.
type BatchCompletionNotifier interface {
	CheckBatchCompletion(ctx context.Context, batchID string) error
	CheckImportCompletion(ctx context.Context, importJobID string) error
}

// MetadataLookup resolves artist names to MBIDs, best-effort.
type MetadataLookup interface {
	SearchArtist(ctx context.Context, name string) (string, error)
}

// Config tunes the orchestrator's timeouts and grace periods. Zero-value
// fields fall back to the package defaults.
type Config struct {
	RootFolder         string
	PendingTimeout     time.Duration
	NoSourceTimeout    time.Duration
	ImportTimeout      time.Duration
	FailureDedupWindow time.Duration
	QueueSyncMissLimit int
	SweepChunkSize     int
}

func (c Config) withDefaults() Config {
	if c.PendingTimeout == 0 {
		c.PendingTimeout = constants.DefaultPendingTimeout
	}
	if c.NoSourceTimeout == 0 {
		c.NoSourceTimeout = constants.DefaultNoSourceTimeout
	}
	if c.ImportTimeout == 0 {
		c.ImportTimeout = constants.DefaultImportTimeout
	}
	if c.FailureDedupWindow == 0 {
		c.FailureDedupWindow = constants.DefaultFailureDedupWindow
	}
	if c.QueueSyncMissLimit == 0 {
		c.QueueSyncMissLimit = constants.DefaultQueueSyncMissLimit
	}
	if c.SweepChunkSize == 0 {
		c.SweepChunkSize = constants.DefaultSweepChunkSize
	}
	return c
}

// Deps are the orchestrator's collaborators. Store, Acquirer, Policy,
// Sender and Logger are required; the rest are optional.
type Deps struct {
	Store    *store.DB
	Acquirer acquisition.Client
	Policy   *notify.Policy
	Sender   notify.Sender
	Metadata MetadataLookup
	Batches  BatchCompletionNotifier
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

type Orchestrator struct {
	db       *store.DB
	acquirer acquisition.Client
	policy   *notify.Policy
	sender   notify.Sender
	metadata MetadataLookup
	batches  BatchCompletionNotifier
	metrics  *metrics.Metrics
	log      *logger.Logger
	cfg      Config
	now      func() time.Time
}

func New(deps Deps, cfg Config) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Orchestrator{
		db:       deps.Store,
		acquirer: deps.Acquirer,
		policy:   deps.Policy,
		sender:   deps.Sender,
		metadata: deps.Metadata,
		batches:  deps.Batches,
		metrics:  deps.Metrics,
		log:      log.WithComponent("orchestrator"),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// StartParams describe a start request for an already-created pending job.
type StartParams struct {
	JobID       string
	ArtistName  string
	AlbumTitle  string
	AlbumMBID   string
	UserID      string
	IsDiscovery bool
}

// StartResult reports what the start path did with the job.
type StartResult struct {
	Started bool
	Retried bool
	Failed  bool
	Reason  string
}

// StartDownload drives a pending job into the acquisition system. Artist
// MBID resolution is best-effort; submission failures are classified and
// either cascade to a same-artist fallback or fail the job. Typed
// acquisition errors are propagated to the caller verbatim.
func (o *Orchestrator) StartDownload(ctx context.Context, params StartParams) (StartResult, error) {
	job, err := o.db.Q().GetJob(ctx, params.JobID)
	if err != nil {
		return StartResult{}, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		// Unknown id is "no match", not an exception.
		return StartResult{Reason: "job not found"}, nil
	}

	correlationID := uuid.New().String()
	log := o.log.WithJob(job.ID, string(job.Type))

	artistMBID := job.ArtistMBID
	if artistMBID == "" && o.metadata != nil && params.ArtistName != "" {
		mbid, err := o.metadata.SearchArtist(ctx, params.ArtistName)
		if err != nil {
			log.Warn("Artist MBID lookup failed", "artist", params.ArtistName, "error", err)
		} else {
			artistMBID = mbid
		}
	}

	added, addErr := o.acquirer.AddAlbum(ctx, acquisition.AddAlbumParams{
		AlbumMBID:  params.AlbumMBID,
		ArtistName: params.ArtistName,
		AlbumTitle: params.AlbumTitle,
		RootFolder: o.cfg.RootFolder,
		ArtistMBID: artistMBID,
		Discovery:  params.IsDiscovery,
	})

	if addErr == nil {
		started := o.now().UTC()
		err := o.db.Transaction(ctx, func(q *store.Queries) error {
			current, err := q.GetJob(ctx, job.ID)
			if err != nil {
				return err
			}
			if current == nil {
				return fmt.Errorf("job %s vanished", job.ID)
			}
			current.Status = domain.JobStatusProcessing
			current.CorrelationID = correlationID
			current.ArtistMBID = artistMBID
			current.TargetMBID = params.AlbumMBID
			current.LidarrAlbumID = &added.ID
			current.StartedAt = &started
			downloadType := domain.DownloadTypeLibrary
			if params.IsDiscovery {
				downloadType = domain.DownloadTypeDiscovery
			}
			update := domain.JobMeta{
				ArtistName:     params.ArtistName,
				AlbumTitle:     params.AlbumTitle,
				DownloadType:   downloadType,
				StartedAt:      &started,
				LidarrAttempts: current.Meta.LidarrAttempts + 1,
			}
			if added.ForeignAlbumID != "" && added.ForeignAlbumID != params.AlbumMBID {
				update.LidarrMBID = added.ForeignAlbumID
			}
			// Shallow merge: caller-supplied context such as discovery
			// tier or similarity survives the start transition.
			current.Meta = current.Meta.Merge(update)
			if current.Meta.DownloadType == "" {
				current.Meta.DownloadType = downloadType
			}
			return q.SaveJob(ctx, current)
		})
		if err != nil {
			return StartResult{}, err
		}
		if o.metrics != nil {
			o.metrics.DownloadsStarted.Inc()
		}
		log.Info("Download started", "correlation_id", correlationID, "album_mbid", params.AlbumMBID)
		return StartResult{Started: true}, nil
	}

	// Submission failed: classify and decide fallback vs immediate fail.
	job.ArtistMBID = artistMBID
	switch {
	case acquisition.IsNoReleases(addErr):
		return o.handleUnobtainable(ctx, job, params, "No releases available for album", addErr)
	case acquisition.IsAlbumNotFound(addErr):
		return o.handleUnobtainable(ctx, job, params, "Album not found in acquisition catalog", addErr)
	default:
		log.Error("Download submission failed", "error", addErr)
		if err := o.failJob(ctx, job.ID, addErr.Error()); err != nil {
			return StartResult{}, err
		}
		o.signalBatches(ctx, job)
		// Typed acquisition errors keep their kind and recoverable flag
		// for the caller.
		return StartResult{Failed: true, Reason: addErr.Error()}, addErr
	}
}

// handleUnobtainable runs the fallback-or-fail decision for "no releases"
// and "album not found" submissions.
func (o *Orchestrator) handleUnobtainable(ctx context.Context, job *domain.DownloadJob, params StartParams, reason string, cause error) (StartResult, error) {
	log := o.log.WithJob(job.ID, string(job.Type))
	log.Warn("Album unobtainable", "reason", reason, "error", cause)

	if !params.IsDiscovery && job.FallbackAllowed() && job.ArtistMBID != "" {
		res, err := o.tryNextAlbumFromArtist(ctx, job, reason)
		if err != nil {
			return StartResult{}, err
		}
		return StartResult{Retried: res.Retried, Failed: res.Failed, Reason: reason}, nil
	}

	// Discovery jobs skip fallback to preserve batch diversity.
	if err := o.markJobExhausted(ctx, job, reason); err != nil {
		return StartResult{}, err
	}
	return StartResult{Failed: true, Reason: reason}, nil
}

// failJob transitions a job straight to failed with the given reason.
func (o *Orchestrator) failJob(ctx context.Context, jobID, reason string) error {
	return o.db.Transaction(ctx, func(q *store.Queries) error {
		job, err := q.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil || job.Status.IsTerminal() {
			return nil
		}
		job.Status = domain.JobStatusFailed
		job.Error = &reason
		now := o.now().UTC()
		job.CompletedAt = &now
		return q.SaveJob(ctx, job)
	})
}

// GetStats returns job counts per status.
func (o *Orchestrator) GetStats(ctx context.Context) (*store.JobStats, error) {
	return o.db.Q().GetJobStats(ctx)
}

// signalBatches notifies batch-completion callbacks for terminal
// transitions. Failures here are logged and never propagate; the job's
// own status is the source of truth.
func (o *Orchestrator) signalBatches(ctx context.Context, job *domain.DownloadJob) {
	if o.batches == nil || job == nil {
		return
	}
	if job.DiscoveryBatchID != nil && *job.DiscoveryBatchID != "" {
		if err := o.batches.CheckBatchCompletion(ctx, *job.DiscoveryBatchID); err != nil {
			o.log.Warn("Batch completion signal failed", "batch_id", *job.DiscoveryBatchID, "error", err)
		}
	}
	if job.Meta.SpotifyImport != nil && job.Meta.SpotifyImport.ImportJobID != "" {
		if err := o.batches.CheckImportCompletion(ctx, job.Meta.SpotifyImport.ImportJobID); err != nil {
			o.log.Warn("Import completion signal failed", "import_job_id", job.Meta.SpotifyImport.ImportJobID, "error", err)
		}
	}
}

// notifyOutcome runs the notification policy for a terminal job and, if
// allowed, sends the notification and flags it as sent. All errors are
// swallowed after logging; notifications are best-effort side effects.
func (o *Orchestrator) notifyOutcome(ctx context.Context, jobID string, event notify.Event) {
	job, err := o.db.Q().GetJob(ctx, jobID)
	if err != nil || job == nil {
		if err != nil {
			o.log.Warn("Notification lookup failed", "job_id", jobID, "error", err)
		}
		return
	}

	decision, err := o.policy.Evaluate(ctx, o.db.Q(), job, event)
	if err != nil {
		o.log.Warn("Notification policy failed", "job_id", jobID, "error", err)
		return
	}
	if !decision.ShouldNotify {
		o.log.Debug("Notification suppressed", "job_id", jobID, "reason", decision.Reason)
		if o.metrics != nil {
			o.metrics.NotificationsMuted.Inc()
		}
		return
	}

	var sendErr error
	switch decision.Type {
	case notify.TypeDownloadComplete:
		sendErr = o.sender.NotifyDownloadComplete(ctx, job.UserID, job.Subject, job.TargetMBID, job.ArtistMBID)
	case notify.TypeDownloadFailed:
		reason := decision.Reason
		if job.Error != nil {
			reason = *job.Error
		}
		sendErr = o.sender.NotifyDownloadFailed(ctx, job.UserID, job.Subject, reason)
	}
	if sendErr != nil {
		o.log.Warn("Notification send failed", "job_id", jobID, "error", sendErr)
		return
	}

	if o.metrics != nil {
		o.metrics.NotificationsSent.Inc()
	}
	if err := o.markNotified(ctx, jobID); err != nil {
		o.log.Warn("Failed to flag notification", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) markNotified(ctx context.Context, jobID string) error {
	return o.db.Transaction(ctx, func(q *store.Queries) error {
		job, err := q.GetJob(ctx, jobID)
		if err != nil || job == nil {
			return err
		}
		if job.Meta.NotificationSent {
			return nil
		}
		job.Meta.NotificationSent = true
		return q.SaveJob(ctx, job)
	})
}
