package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/domain"
	"github.com/soundspan/soundspan/internal/notify"
	"github.com/soundspan/soundspan/internal/store"
)

// FallbackResult reports what the cascade did.
type FallbackResult struct {
	Retried bool
	Failed  bool
	NextJob string
}

// tryNextAlbumFromArtist substitutes an untried release from the same
// artist when the requested album is unobtainable. The current job is
// handed off as exhausted, never failed, so no spurious failure
// notification fires for it.
func (o *Orchestrator) tryNextAlbumFromArtist(ctx context.Context, job *domain.DownloadJob, reason string) (FallbackResult, error) {
	log := o.log.WithJob(job.ID, string(job.Type))

	if !job.FallbackAllowed() {
		log.Info("Fallback excluded for this job", "reason", reason)
		if err := o.markJobExhausted(ctx, job, reason); err != nil {
			return FallbackResult{}, err
		}
		return FallbackResult{Failed: true}, nil
	}
	if job.ArtistMBID == "" {
		if err := o.markJobExhausted(ctx, job, reason); err != nil {
			return FallbackResult{}, err
		}
		return FallbackResult{Failed: true}, nil
	}

	releases, err := o.acquirer.GetArtistAlbums(ctx, job.ArtistMBID)
	if err != nil {
		log.Warn("Failed to list artist releases", "error", err)
		if err := o.markJobExhausted(ctx, job, reason); err != nil {
			return FallbackResult{}, err
		}
		return FallbackResult{Failed: true}, nil
	}

	candidate, ok, err := o.pickUntriedRelease(ctx, job, releases)
	if err != nil {
		return FallbackResult{}, err
	}
	if !ok {
		log.Info("All releases for artist already attempted")
		if err := o.markJobExhausted(ctx, job, "all releases exhausted for artist"); err != nil {
			return FallbackResult{}, err
		}
		return FallbackResult{Failed: true}, nil
	}

	// Hand off: exhaust the current job and spawn its replacement.
	next := &domain.DownloadJob{
		ID:            uuid.New().String(),
		UserID:        job.UserID,
		Subject:       domain.BuildSubject(job.Meta.ArtistName, candidate.Title),
		Type:          domain.JobTypeAlbum,
		Status:        domain.JobStatusPending,
		TargetMBID:    candidate.ForeignAlbumID,
		ArtistMBID:    job.ArtistMBID,
		CorrelationID: uuid.New().String(),
		CreatedAt:     o.now().UTC(),
		Meta: domain.JobMeta{
			ArtistName:         job.Meta.ArtistName,
			AlbumTitle:         candidate.Title,
			DownloadType:       job.Meta.DownloadType,
			SameArtistFallback: true,
			OriginalJobID:      job.ID,
		},
	}

	err = o.db.Transaction(ctx, func(q *store.Queries) error {
		current, err := q.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("job %s vanished", job.ID)
		}
		if current.Status.IsTerminal() {
			return nil
		}
		current.Status = domain.JobStatusExhausted
		current.Error = &reason
		now := o.now().UTC()
		current.CompletedAt = &now
		if err := q.SaveJob(ctx, current); err != nil {
			return err
		}
		return q.CreateJob(ctx, next)
	})
	if err != nil {
		return FallbackResult{}, err
	}
	if o.metrics != nil {
		o.metrics.JobsExhausted.Inc()
	}
	log.WithAlbum(next.Meta.ArtistName, candidate.Title).Info(
		"Falling back to another release from artist", "next_job", next.ID)

	res, err := o.StartDownload(ctx, StartParams{
		JobID:      next.ID,
		ArtistName: next.Meta.ArtistName,
		AlbumTitle: candidate.Title,
		AlbumMBID:  candidate.ForeignAlbumID,
		UserID:     next.UserID,
	})
	if err != nil || !res.Started {
		if err != nil {
			log.Warn("Fallback start failed", "next_job", next.ID, "error", err)
		}
		return FallbackResult{Failed: true, NextJob: next.ID}, nil
	}
	return FallbackResult{Retried: true, NextJob: next.ID}, nil
}

// pickUntriedRelease filters the artist's releases down to those no job
// has ever targeted, preferring full albums over singles and EPs.
func (o *Orchestrator) pickUntriedRelease(ctx context.Context, job *domain.DownloadJob, releases []acquisition.ArtistAlbum) (acquisition.ArtistAlbum, bool, error) {
	attempted := map[string]bool{job.TargetMBID: true}
	if job.Meta.LidarrMBID != "" {
		attempted[job.Meta.LidarrMBID] = true
	}

	siblings, err := o.db.Q().FindJobs(ctx, store.JobFilter{ArtistMBID: job.ArtistMBID})
	if err != nil {
		return acquisition.ArtistAlbum{}, false, err
	}
	for _, s := range siblings {
		if s.TargetMBID != "" {
			attempted[s.TargetMBID] = true
		}
		if s.Meta.LidarrMBID != "" {
			attempted[s.Meta.LidarrMBID] = true
		}
	}

	var fallback *acquisition.ArtistAlbum
	for i := range releases {
		r := releases[i]
		if r.ForeignAlbumID == "" || attempted[r.ForeignAlbumID] {
			continue
		}
		if r.AlbumType == "album" || r.AlbumType == "Album" {
			return r, true, nil
		}
		if fallback == nil {
			fallback = &releases[i]
		}
	}
	if fallback != nil {
		return *fallback, true, nil
	}
	return acquisition.ArtistAlbum{}, false, nil
}

// findCompletedDuplicate returns a completed job for the same logical
// album, or nil when none exists.
func findCompletedDuplicate(ctx context.Context, q *store.Queries, job *domain.DownloadJob) (*domain.DownloadJob, error) {
	key := job.AlbumKey()
	if key == "" {
		return nil, nil
	}
	completed, err := q.FindJobs(ctx, store.JobFilter{
		Statuses:  []domain.JobStatus{domain.JobStatusCompleted},
		ExcludeID: job.ID,
	})
	if err != nil {
		return nil, err
	}
	for _, c := range completed {
		if c.AlbumKey() == key {
			return c, nil
		}
	}
	return nil, nil
}

// markJobExhausted finishes a job whose target is unobtainable. A
// completed sibling for the same logical album turns this into a merge;
// otherwise the job fails, batch completion is signaled, and the
// notification policy is consulted. Policy and send errors are logged
// and swallowed so they can never block the state transition.
func (o *Orchestrator) markJobExhausted(ctx context.Context, job *domain.DownloadJob, reason string) error {
	merged := false
	err := o.db.Transaction(ctx, func(q *store.Queries) error {
		merged = false
		current, err := q.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("job %s vanished", job.ID)
		}
		if current.Status.IsTerminal() {
			return nil
		}

		now := o.now().UTC()

		// A completed duplicate means the album is already here; merge
		// instead of failing so no failure notification fires.
		dup, err := findCompletedDuplicate(ctx, q, current)
		if err != nil {
			return err
		}
		if dup != nil {
			current.Status = domain.JobStatusCompleted
			current.CompletedAt = &now
			current.Meta.MergedWithJob = dup.ID
			merged = true
			return q.SaveJob(ctx, current)
		}

		current.Status = domain.JobStatusFailed
		current.Error = &reason
		current.CompletedAt = &now
		return q.SaveJob(ctx, current)
	})
	if err != nil {
		return err
	}

	if o.metrics != nil && !merged {
		o.metrics.JobsFailed.Inc()
	}

	o.signalBatches(ctx, job)
	if !merged {
		o.notifyOutcome(ctx, job.ID, notify.EventFailed)
	}
	return nil
}
