package orchestrator

import (
	"context"
	"fmt"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/domain"
	"github.com/soundspan/soundspan/internal/notify"
	"github.com/soundspan/soundspan/internal/store"
)

// sourceSoulseek marks jobs whose transfer runs outside the acquisition
// system's queue; the sweep has no visibility into them and leaves them
// alone.
const sourceSoulseek = "soulseek"

// SweepResult summarizes one stale-job sweep pass.
type SweepResult struct {
	Scanned   int
	Failed    int
	Retried   int
	Extended  int
	Merged    int
	Refreshed int
}

// MarkStaleJobsAsFailed times out jobs stuck in non-terminal states. Three
// tiers apply, loosest first:
//
//	pending older than PendingTimeout        - never handed to the queue
//	processing, no external ref, older than  - grabbed nothing within
//	NoSourceTimeout                            the source-search window
//	processing with ref, older than          - import stalled; only judged
//	ImportTimeout                              when a queue snapshot exists
//
// A nil snapshot suppresses the third tier entirely: without queue state
// an import cannot be told apart from a slow download. Jobs whose
// download is still actively progressing get their started timestamp
// refreshed instead of failing.
func (o *Orchestrator) MarkStaleJobsAsFailed(ctx context.Context, snapshot *acquisition.Snapshot) (SweepResult, error) {
	var result SweepResult
	now := o.now().UTC()

	pendingCutoff := now.Add(-o.cfg.PendingTimeout)
	pending, err := o.db.Q().FindJobs(ctx, store.JobFilter{
		Statuses:      []domain.JobStatus{domain.JobStatusPending},
		CreatedBefore: &pendingCutoff,
	})
	if err != nil {
		return result, fmt.Errorf("failed to list stale pending jobs: %w", err)
	}
	for _, chunk := range chunkJobs(pending, o.cfg.SweepChunkSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var batch []*domain.DownloadJob
		for _, job := range chunk {
			result.Scanned++
			if job.Meta.Source == sourceSoulseek {
				continue
			}
			dup, err := findCompletedDuplicate(ctx, o.db.Q(), job)
			if err != nil {
				o.log.Warn("Duplicate lookup failed", "job_id", job.ID, "error", err)
				continue
			}
			if dup != nil {
				o.sweepFail(ctx, job, "Download never started - timed out", &result)
				continue
			}
			batch = append(batch, job)
		}
		if err := o.failPendingBatch(ctx, batch, &result); err != nil {
			return result, err
		}
	}

	noSourceCutoff := now.Add(-o.cfg.NoSourceTimeout)
	noRef := false
	sourceless, err := o.db.Q().FindJobs(ctx, store.JobFilter{
		Statuses:      []domain.JobStatus{domain.JobStatusProcessing},
		HasLidarrRef:  &noRef,
		StartedBefore: &noSourceCutoff,
	})
	if err != nil {
		return result, fmt.Errorf("failed to list sourceless jobs: %w", err)
	}
	for _, chunk := range chunkJobs(sourceless, o.cfg.SweepChunkSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, job := range chunk {
			result.Scanned++
			if job.Meta.Source == sourceSoulseek {
				continue
			}
			o.sweepStale(ctx, job, "No sources found for download - timed out", &result)
		}
	}

	if snapshot == nil {
		return result, nil
	}

	importCutoff := now.Add(-o.cfg.ImportTimeout)
	hasRef := true
	importing, err := o.db.Q().FindJobs(ctx, store.JobFilter{
		Statuses:      []domain.JobStatus{domain.JobStatusProcessing},
		HasLidarrRef:  &hasRef,
		StartedBefore: &importCutoff,
	})
	if err != nil {
		return result, fmt.Errorf("failed to list stalled imports: %w", err)
	}
	for _, chunk := range chunkJobs(importing, o.cfg.SweepChunkSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, job := range chunk {
			result.Scanned++
			if job.Meta.Source == sourceSoulseek {
				continue
			}
			ref := ""
			if job.LidarrRef != nil {
				ref = *job.LidarrRef
			}
			activity := snapshot.DownloadActivity(ref)
			if activity.Active {
				// Still moving; push the deadline out one window.
				if err := o.refreshStarted(ctx, job.ID); err != nil {
					o.log.Warn("Failed to refresh stale job", "job_id", job.ID, "error", err)
					continue
				}
				result.Refreshed++
				continue
			}
			o.sweepStale(ctx, job, "Import timed out", &result)
		}
	}

	if o.metrics != nil && result.Failed > 0 {
		o.metrics.StaleJobsSwept.Add(float64(result.Failed))
	}
	return result, nil
}

// sweepStale decides one stale processing job: extend if the policy asks
// for it, otherwise fall back to another release when the job is eligible,
// otherwise fail.
func (o *Orchestrator) sweepStale(ctx context.Context, job *domain.DownloadJob, reason string, result *SweepResult) {
	decision, err := o.policy.Evaluate(ctx, o.db.Q(), job, notify.EventTimeout)
	if err == nil && decision.ExtendWindow {
		if err := o.refreshStarted(ctx, job.ID); err != nil {
			o.log.Warn("Failed to extend retry window", "job_id", job.ID, "error", err)
			return
		}
		result.Extended++
		return
	}

	// The album may already be in the library under a sibling job; merge
	// before spending acquisition resources on a fallback.
	dup, err := findCompletedDuplicate(ctx, o.db.Q(), job)
	if err != nil {
		o.log.Warn("Duplicate lookup failed", "job_id", job.ID, "error", err)
		return
	}

	if dup == nil && job.Type == domain.JobTypeAlbum && job.FallbackAllowed() && job.ArtistMBID != "" {
		res, err := o.tryNextAlbumFromArtist(ctx, job, reason)
		if err != nil {
			o.log.Warn("Stale fallback failed", "job_id", job.ID, "error", err)
			return
		}
		if res.Retried {
			result.Retried++
		} else {
			result.Failed++
		}
		return
	}

	o.sweepFail(ctx, job, reason, result)
}

// sweepFail finishes a stale job through markJobExhausted, so completed
// duplicates merge instead of failing and the notification policy runs.
func (o *Orchestrator) sweepFail(ctx context.Context, job *domain.DownloadJob, reason string, result *SweepResult) {
	if err := o.markJobExhausted(ctx, job, reason); err != nil {
		o.log.Warn("Failed to time out job", "job_id", job.ID, "error", err)
		return
	}
	current, err := o.db.Q().GetJob(ctx, job.ID)
	if err == nil && current != nil && current.Status == domain.JobStatusCompleted {
		result.Merged++
		return
	}
	result.Failed++
	o.log.Info("Stale job timed out", "job_id", job.ID, "reason", reason)
}

// failPendingBatch times out never-started jobs in one update, then runs
// the batch signaling and notification each terminal transition owes.
// Callers have already diverted completed-duplicate merges to sweepFail.
func (o *Orchestrator) failPendingBatch(ctx context.Context, jobs []*domain.DownloadJob, result *SweepResult) error {
	if len(jobs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	status := domain.JobStatusFailed
	reason := "Download never started - timed out"
	now := o.now().UTC()
	n, err := o.db.Q().UpdateJobs(ctx, store.JobFilter{
		IDs:      ids,
		Statuses: []domain.JobStatus{domain.JobStatusPending},
	}, store.JobUpdate{Status: &status, Error: &reason, CompletedAt: &now})
	if err != nil {
		return fmt.Errorf("failed to time out pending jobs: %w", err)
	}
	result.Failed += int(n)
	if o.metrics != nil && n > 0 {
		o.metrics.JobsFailed.Add(float64(n))
	}
	for _, job := range jobs {
		o.signalBatches(ctx, job)
		o.notifyOutcome(ctx, job.ID, notify.EventTimeout)
	}
	return nil
}

// refreshStarted moves a job's started timestamp to now, restarting its
// timeout window.
func (o *Orchestrator) refreshStarted(ctx context.Context, jobID string) error {
	return o.db.Transaction(ctx, func(q *store.Queries) error {
		job, err := q.GetJob(ctx, jobID)
		if err != nil || job == nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}
		now := o.now().UTC()
		job.StartedAt = &now
		job.Meta.StartedAt = &now
		return q.SaveJob(ctx, job)
	})
}

func chunkJobs(jobs []*domain.DownloadJob, size int) [][]*domain.DownloadJob {
	if size <= 0 {
		size = len(jobs)
	}
	var chunks [][]*domain.DownloadJob
	for start := 0; start < len(jobs); start += size {
		end := start + size
		if end > len(jobs) {
			end = len(jobs)
		}
		chunks = append(chunks, jobs[start:end])
	}
	return chunks
}
