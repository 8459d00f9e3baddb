package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/domain"
	"github.com/soundspan/soundspan/internal/store"
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Checked   int
	Completed int
}

// ReconcileWithLidarr completes processing jobs whose album already shows
// up in the acquisition system's catalog, covering webhooks that never
// arrived. Availability is checked by target MBID, then by the MBID the
// acquisition system reported at submission, then by normalized
// artist+album parsed from the subject. A nil snapshot is a no-op.
func (o *Orchestrator) ReconcileWithLidarr(ctx context.Context, snapshot *acquisition.Snapshot) (ReconcileResult, error) {
	var result ReconcileResult
	if snapshot == nil {
		return result, nil
	}

	jobs, err := o.db.Q().FindJobs(ctx, store.JobFilter{
		Statuses: []domain.JobStatus{domain.JobStatusProcessing},
	})
	if err != nil {
		return result, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	result.Checked = len(jobs)

	var done []*domain.DownloadJob
	for _, job := range jobs {
		artist, album := job.ArtistAlbum()
		available := snapshot.AlbumAvailable(job.TargetMBID, artist, album)
		if !available && job.Meta.LidarrMBID != "" {
			available = snapshot.AlbumAvailable(job.Meta.LidarrMBID, artist, album)
		}
		if available {
			done = append(done, job)
		}
	}
	if len(done) == 0 {
		return result, nil
	}

	ids := make([]string, len(done))
	for i, job := range done {
		ids[i] = job.ID
	}
	now := o.now().UTC()
	completed := domain.JobStatusCompleted
	err = o.db.Transaction(ctx, func(q *store.Queries) error {
		n, err := q.UpdateJobs(ctx, store.JobFilter{
			IDs:      ids,
			Statuses: []domain.JobStatus{domain.JobStatusProcessing},
		}, store.JobUpdate{
			Status:      &completed,
			CompletedAt: &now,
		})
		if err != nil {
			return err
		}
		result.Completed = int(n)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to complete reconciled jobs: %w", err)
	}

	if o.metrics != nil {
		o.metrics.JobsCompleted.Add(float64(result.Completed))
	}
	o.log.Info("Reconciled jobs against catalog", "checked", result.Checked, "completed", result.Completed)

	o.signalReconciledBatches(ctx, done)
	return result, nil
}

// signalReconciledBatches fires each distinct batch and import callback
// once, concurrently but bounded. Callback errors are logged, never
// propagated.
func (o *Orchestrator) signalReconciledBatches(ctx context.Context, jobs []*domain.DownloadJob) {
	if o.batches == nil {
		return
	}

	batchIDs := make(map[string]struct{})
	importIDs := make(map[string]struct{})
	for _, job := range jobs {
		if job.DiscoveryBatchID != nil && *job.DiscoveryBatchID != "" {
			batchIDs[*job.DiscoveryBatchID] = struct{}{}
		}
		if job.Meta.SpotifyImport != nil && job.Meta.SpotifyImport.ImportJobID != "" {
			importIDs[job.Meta.SpotifyImport.ImportJobID] = struct{}{}
		}
	}
	if len(batchIDs) == 0 && len(importIDs) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for id := range batchIDs {
		id := id
		g.Go(func() error {
			if err := o.batches.CheckBatchCompletion(gctx, id); err != nil {
				o.log.Warn("Batch completion signal failed", "batch_id", id, "error", err)
			}
			return nil
		})
	}
	for id := range importIDs {
		id := id
		g.Go(func() error {
			if err := o.batches.CheckImportCompletion(gctx, id); err != nil {
				o.log.Warn("Import completion signal failed", "import_job_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
