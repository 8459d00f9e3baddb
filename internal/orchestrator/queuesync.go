package orchestrator

import (
	"context"
	"fmt"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/domain"
	"github.com/soundspan/soundspan/internal/notify"
	"github.com/soundspan/soundspan/internal/store"
)

// QueueSyncResult summarizes one queue sync pass.
type QueueSyncResult struct {
	Checked    int
	Misses     int
	Reattached int
	Completed  int
	Cancelled  int
}

// SyncWithLidarrQueue detects downloads that vanished from the acquisition
// queue without a webhook, typically a manual cancellation. A single
// absence is tolerated; only after QueueSyncMissLimit consecutive misses
// does the job resolve. Before declaring it cancelled the pass looks for a
// replacement queue entry to re-attach to, then checks whether the album
// arrived anyway. A nil snapshot is a no-op so a flaky acquisition API
// never mass-cancels jobs.
func (o *Orchestrator) SyncWithLidarrQueue(ctx context.Context, snapshot *acquisition.Snapshot) (QueueSyncResult, error) {
	var result QueueSyncResult
	if snapshot == nil {
		return result, nil
	}

	hasRef := true
	jobs, err := o.db.Q().FindJobs(ctx, store.JobFilter{
		Statuses:     []domain.JobStatus{domain.JobStatusProcessing},
		HasLidarrRef: &hasRef,
	})
	if err != nil {
		return result, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	result.Checked = len(jobs)

	for _, job := range jobs {
		if job.Meta.Source == sourceSoulseek {
			continue
		}
		ref := *job.LidarrRef

		if snapshot.InQueue(ref) {
			if job.Meta.QueueSyncMiss > 0 {
				if err := o.setQueueSyncMiss(ctx, job.ID, 0); err != nil {
					o.log.Warn("Failed to reset queue sync counter", "job_id", job.ID, "error", err)
				}
			}
			continue
		}

		misses := job.Meta.QueueSyncMiss + 1
		result.Misses++
		if misses < o.cfg.QueueSyncMissLimit {
			if err := o.setQueueSyncMiss(ctx, job.ID, misses); err != nil {
				o.log.Warn("Failed to record queue sync miss", "job_id", job.ID, "error", err)
			}
			continue
		}

		// Grace period over: resolve the disappearance.
		o.resolveVanished(ctx, job, snapshot, &result)
	}
	return result, nil
}

// resolveVanished handles a job whose download stayed out of the queue for
// the full grace period: re-attach to a replacement entry, complete if the
// album landed anyway, or fail as externally cancelled.
func (o *Orchestrator) resolveVanished(ctx context.Context, job *domain.DownloadJob, snapshot *acquisition.Snapshot, result *QueueSyncResult) {
	log := o.log.WithJob(job.ID, string(job.Type))
	oldRef := *job.LidarrRef
	artist, album := job.ArtistAlbum()

	exclude := map[string]bool{oldRef: true}
	for _, prev := range job.Meta.PreviousDownloadIDs {
		exclude[prev] = true
	}
	if item, ok := snapshot.FindReplacement(artist, album, exclude); ok {
		err := o.db.Transaction(ctx, func(q *store.Queries) error {
			current, err := q.GetJob(ctx, job.ID)
			if err != nil || current == nil {
				return err
			}
			if current.Status != domain.JobStatusProcessing {
				return nil
			}
			ref := item.DownloadID
			current.LidarrRef = &ref
			current.Meta.PreviousDownloadIDs = append(current.Meta.PreviousDownloadIDs, oldRef)
			current.Meta.QueueSyncMiss = 0
			return q.SaveJob(ctx, current)
		})
		if err != nil {
			log.Warn("Failed to re-attach replacement download", "error", err)
			return
		}
		log.Info("Re-attached to replacement download", "old_ref", oldRef, "new_ref", item.DownloadID)
		result.Reattached++
		return
	}

	if snapshot.AlbumAvailable(job.TargetMBID, artist, album) {
		now := o.now().UTC()
		err := o.db.Transaction(ctx, func(q *store.Queries) error {
			current, err := q.GetJob(ctx, job.ID)
			if err != nil || current == nil {
				return err
			}
			if current.Status.IsTerminal() {
				return nil
			}
			current.Status = domain.JobStatusCompleted
			current.CompletedAt = &now
			return q.SaveJob(ctx, current)
		})
		if err != nil {
			log.Warn("Failed to complete vanished job", "error", err)
			return
		}
		result.Completed++
		if o.metrics != nil {
			o.metrics.JobsCompleted.Inc()
		}
		o.notifyOutcome(ctx, job.ID, notify.EventComplete)
		o.signalBatches(ctx, job)
		return
	}

	reason := "Download not found in queue after grace period - likely cancelled externally"
	now := o.now().UTC()
	err := o.db.Transaction(ctx, func(q *store.Queries) error {
		current, err := q.GetJob(ctx, job.ID)
		if err != nil || current == nil {
			return err
		}
		if current.Status.IsTerminal() {
			return nil
		}
		current.Status = domain.JobStatusFailed
		current.Error = &reason
		current.CompletedAt = &now
		current.LidarrRef = nil
		current.Meta.QueueSyncCancelled = true
		current.Meta.PreviousDownloadIDs = append(current.Meta.PreviousDownloadIDs, oldRef)
		return q.SaveJob(ctx, current)
	})
	if err != nil {
		log.Warn("Failed to cancel vanished job", "error", err)
		return
	}
	log.Info("Download cancelled externally", "ref", oldRef)
	result.Cancelled++
	if o.metrics != nil {
		o.metrics.JobsFailed.Inc()
		o.metrics.QueueSyncCancels.Inc()
	}
	o.notifyOutcome(ctx, job.ID, notify.EventFailed)
	o.signalBatches(ctx, job)
}

func (o *Orchestrator) setQueueSyncMiss(ctx context.Context, jobID string, n int) error {
	return o.db.Transaction(ctx, func(q *store.Queries) error {
		job, err := q.GetJob(ctx, jobID)
		if err != nil || job == nil {
			return err
		}
		if job.Status != domain.JobStatusProcessing {
			return nil
		}
		job.Meta.QueueSyncMiss = n
		return q.SaveJob(ctx, job)
	})
}
