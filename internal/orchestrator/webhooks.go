package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soundspan/soundspan/internal/domain"
	"github.com/soundspan/soundspan/internal/notify"
	"github.com/soundspan/soundspan/internal/store"
)

// GrabbedEvent is a "download grabbed" webhook payload.
type GrabbedEvent struct {
	DownloadID    string
	AlbumMBID     string
	AlbumTitle    string
	ArtistName    string
	LidarrAlbumID int64
}

// CompleteEvent is an "import complete" webhook payload. Optional fields
// are pointers or empty strings.
type CompleteEvent struct {
	DownloadID    string
	AlbumMBID     string
	ArtistName    string
	AlbumTitle    string
	LidarrAlbumID *int64
}

// FailedEvent is an "import failed" webhook payload.
type FailedEvent struct {
	DownloadID string
	Reason     string
	AlbumMBID  string
}

// MatchResult reports how a webhook was handled.
type MatchResult struct {
	Matched   bool
	Job       *domain.DownloadJob
	Strategy  string
	Created   bool
	Duplicate bool
	Deduped   bool
}

// OnDownloadGrabbed attaches an acknowledged external download to the job
// that requested it, or creates a tracking job for downloads started
// outside this service. Replay-safe: a download id already attached to a
// job short-circuits.
func (o *Orchestrator) OnDownloadGrabbed(ctx context.Context, ev GrabbedEvent) (*MatchResult, error) {
	result := &MatchResult{}

	err := o.db.Transaction(ctx, func(q *store.Queries) error {
		*result = MatchResult{}

		// Idempotency: already tagged with this download id.
		existing, err := q.FindFirstJob(ctx, store.JobFilter{LidarrRef: ev.DownloadID})
		if err != nil {
			return err
		}
		if existing != nil {
			result.Matched = true
			result.Job = existing
			result.Strategy = "replay"
			return nil
		}

		// Unassigned active jobs are the candidate set.
		noRef := false
		candidates, err := q.FindJobs(ctx, store.JobFilter{
			Statuses:     domain.ActiveStatuses,
			Types:        []domain.JobType{domain.JobTypeAlbum},
			HasLidarrRef: &noRef,
		})
		if err != nil {
			return err
		}

		job, strategy := firstMatch(candidates, grabStrategies(ev))
		if job != nil {
			ref := ev.DownloadID
			job.LidarrRef = &ref
			if ev.LidarrAlbumID != 0 {
				id := ev.LidarrAlbumID
				job.LidarrAlbumID = &id
			}
			job.Status = domain.JobStatusProcessing
			if job.StartedAt == nil {
				now := o.now().UTC()
				job.StartedAt = &now
			}
			if err := q.SaveJob(ctx, job); err != nil {
				return err
			}
			result.Matched = true
			result.Job = job
			result.Strategy = strategy
			return nil
		}

		// No open job wanted this download: duplicate detection keeps one
		// logical album from being acquired twice.
		dup, err := o.findDuplicate(ctx, q, ev.AlbumMBID, ev.ArtistName, ev.AlbumTitle)
		if err != nil {
			return err
		}
		if dup != nil {
			result.Duplicate = true
			return nil
		}

		// Unknown download for an unknown album: adopt it as a tracking
		// job if an owning user can be inferred from the most recent
		// artist-type job; otherwise leave it unmatched rather than
		// create an orphan.
		owner, err := q.FindFirstJob(ctx, store.JobFilter{
			Types:              []domain.JobType{domain.JobTypeArtist},
			OrderByCreatedDesc: true,
		})
		if err != nil {
			return err
		}
		if owner == nil || ev.ArtistName == "" || ev.AlbumTitle == "" {
			return nil
		}

		ref := ev.DownloadID
		now := o.now().UTC()
		tracking := &domain.DownloadJob{
			ID:            uuid.New().String(),
			UserID:        owner.UserID,
			Subject:       domain.BuildSubject(ev.ArtistName, ev.AlbumTitle),
			Type:          domain.JobTypeAlbum,
			Status:        domain.JobStatusProcessing,
			TargetMBID:    ev.AlbumMBID,
			CorrelationID: uuid.New().String(),
			LidarrRef:     &ref,
			CreatedAt:     now,
			StartedAt:     &now,
			Meta: domain.JobMeta{
				ArtistName:   ev.ArtistName,
				AlbumTitle:   ev.AlbumTitle,
				DownloadType: domain.DownloadTypeLibrary,
				StartedAt:    &now,
			},
		}
		if ev.LidarrAlbumID != 0 {
			id := ev.LidarrAlbumID
			tracking.LidarrAlbumID = &id
		}
		if err := q.CreateJob(ctx, tracking); err != nil {
			return err
		}
		result.Matched = true
		result.Job = tracking
		result.Strategy = "tracking_job"
		result.Created = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("grab webhook failed: %w", err)
	}

	if result.Matched && o.metrics != nil {
		o.metrics.WebhookMatches.WithLabelValues(result.Strategy).Inc()
	}
	return result, nil
}

// findDuplicate looks for an existing job (active or completed) for the
// same album, by MBID first and then by normalized artist+album.
func (o *Orchestrator) findDuplicate(ctx context.Context, q *store.Queries, albumMBID, artist, album string) (*domain.DownloadJob, error) {
	statuses := []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted}

	if albumMBID != "" {
		dup, err := q.FindFirstJob(ctx, store.JobFilter{Statuses: statuses, TargetMBID: albumMBID})
		if err != nil {
			return nil, err
		}
		if dup != nil {
			return dup, nil
		}
	}

	if artist == "" || album == "" {
		return nil, nil
	}
	key := domain.AlbumKey(artist, album)
	jobs, err := q.FindJobs(ctx, store.JobFilter{Statuses: statuses})
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.AlbumKey() == key {
			return j, nil
		}
	}
	return nil, nil
}

// OnDownloadComplete marks the matching job completed, merges any sibling
// jobs for the same logical album, and after commit evaluates the
// notification policy and signals batch completion.
func (o *Orchestrator) OnDownloadComplete(ctx context.Context, ev CompleteEvent) (*MatchResult, error) {
	result := &MatchResult{}

	err := o.db.Transaction(ctx, func(q *store.Queries) error {
		*result = MatchResult{}

		// Idempotency: this download already completed a job.
		if ev.DownloadID != "" {
			done, err := q.FindFirstJob(ctx, store.JobFilter{
				LidarrRef: ev.DownloadID,
				Statuses:  []domain.JobStatus{domain.JobStatusCompleted},
			})
			if err != nil {
				return err
			}
			if done != nil {
				result.Matched = true
				result.Job = done
				result.Strategy = "replay"
				return nil
			}
		}

		candidates, err := q.FindJobs(ctx, store.JobFilter{Statuses: domain.ActiveStatuses})
		if err != nil {
			return err
		}

		job, strategy := firstMatch(candidates, completeStrategies(ev))
		if job == nil {
			return nil
		}

		now := o.now().UTC()

		// Merge every other active job tracking the same logical album.
		// One logical album has one outcome; see the dedup invariant.
		key := job.AlbumKey()
		var siblingIDs []string
		for _, sibling := range candidates {
			if sibling.ID == job.ID || key == "" {
				continue
			}
			if sibling.AlbumKey() == key {
				siblingIDs = append(siblingIDs, sibling.ID)
			}
		}
		if len(siblingIDs) > 0 {
			completed := domain.JobStatusCompleted
			if _, err := q.UpdateJobs(ctx, store.JobFilter{IDs: siblingIDs}, store.JobUpdate{
				Status:      &completed,
				CompletedAt: &now,
			}); err != nil {
				return err
			}
			for _, id := range siblingIDs {
				sibling, err := q.GetJob(ctx, id)
				if err != nil || sibling == nil {
					continue
				}
				sibling.Meta.MergedWithJob = job.ID
				if err := q.SaveJob(ctx, sibling); err != nil {
					return err
				}
			}
		}

		job.Status = domain.JobStatusCompleted
		job.CompletedAt = &now
		if ev.DownloadID != "" && !job.HasLidarrRef() {
			ref := ev.DownloadID
			job.LidarrRef = &ref
		}
		job.Error = nil
		if err := q.SaveJob(ctx, job); err != nil {
			return err
		}

		result.Matched = true
		result.Job = job
		result.Strategy = strategy
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete webhook failed: %w", err)
	}

	if !result.Matched || result.Strategy == "replay" {
		return result, nil
	}

	if o.metrics != nil {
		o.metrics.WebhookMatches.WithLabelValues(result.Strategy).Inc()
		o.metrics.JobsCompleted.Inc()
	}

	// Post-commit side effects: notification policy first, then batch
	// signaling regardless of the notification outcome.
	o.notifyOutcome(ctx, result.Job.ID, notify.EventComplete)
	o.signalBatches(ctx, result.Job)

	return result, nil
}

// OnImportFailed records a failure on the matching processing job, clears
// its external ref so a new grab can re-attach, and instructs the
// acquisition system to blocklist the release and search again. The job
// is never exhausted here; only the stale sweep decides that.
func (o *Orchestrator) OnImportFailed(ctx context.Context, ev FailedEvent) (*MatchResult, error) {
	result := &MatchResult{}

	err := o.db.Transaction(ctx, func(q *store.Queries) error {
		*result = MatchResult{}

		var job *domain.DownloadJob
		var err error
		if ev.DownloadID != "" {
			job, err = q.FindFirstJob(ctx, store.JobFilter{
				LidarrRef: ev.DownloadID,
				Statuses:  []domain.JobStatus{domain.JobStatusProcessing},
			})
			if err != nil {
				return err
			}
		}
		if job == nil && ev.AlbumMBID != "" {
			job, err = q.FindFirstJob(ctx, store.JobFilter{
				TargetMBID: ev.AlbumMBID,
				Statuses:   []domain.JobStatus{domain.JobStatusProcessing},
			})
			if err != nil {
				return err
			}
		}
		if job == nil {
			return nil
		}

		now := o.now().UTC()

		// Rapid repeated failure callbacks for the same job collapse
		// into a no-op inside the dedup window.
		if job.Meta.LastFailureAt != nil && now.Sub(*job.Meta.LastFailureAt) < o.cfg.FailureDedupWindow {
			result.Matched = true
			result.Job = job
			result.Deduped = true
			return nil
		}

		job.Meta.FailureCount++
		job.Meta.LastFailureAt = &now
		if ev.DownloadID != "" {
			job.Meta.PreviousDownloadIDs = append(job.Meta.PreviousDownloadIDs, ev.DownloadID)
		}
		job.LidarrRef = nil
		if err := q.SaveJob(ctx, job); err != nil {
			return err
		}

		result.Matched = true
		result.Job = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failure webhook failed: %w", err)
	}

	if result.Matched && !result.Deduped && ev.DownloadID != "" {
		// Outside the transaction: let the acquisition system skip this
		// release and keep iterating alternatives on its own.
		if err := o.acquirer.BlocklistAndSearch(ctx, ev.DownloadID); err != nil {
			o.log.Warn("Blocklist request failed", "download_id", ev.DownloadID, "error", err)
		}
	}
	return result, nil
}
