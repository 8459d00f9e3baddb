package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/domain"
	"github.com/soundspan/soundspan/internal/store"
)

func TestSweepFailsStalePendingJobs(t *testing.T) {
	h := setupOrchestrator(t)
	stale := h.createJob(t, &domain.DownloadJob{
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now().UTC().Add(-31 * time.Minute),
		Meta:      domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})
	fresh := h.createJob(t, &domain.DownloadJob{
		Status: domain.JobStatusPending,
		Meta:   domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Other"},
	})

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 job failed, got %+v", result)
	}

	got := h.getJob(t, stale.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "Download never started - timed out" {
		t.Errorf("Expected timeout error, got %v", got.Error)
	}
	if h.getJob(t, fresh.ID).Status != domain.JobStatusPending {
		t.Error("Fresh pending job must survive the sweep")
	}
}

func TestSweepExemptsSoulseekJobs(t *testing.T) {
	h := setupOrchestrator(t)
	job := h.createJob(t, &domain.DownloadJob{
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		Meta:      domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album", Source: "soulseek"},
	})

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("Expected no failures, got %+v", result)
	}
	if h.getJob(t, job.ID).Status != domain.JobStatusPending {
		t.Error("Soulseek job must not be swept")
	}
}

func TestSweepFailsSourcelessProcessingJobs(t *testing.T) {
	h := setupOrchestrator(t)
	started := time.Now().UTC().Add(-46 * time.Minute)
	job := h.createJob(t, &domain.DownloadJob{
		Status:    domain.JobStatusProcessing,
		StartedAt: &started,
		Meta:      domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 job failed, got %+v", result)
	}
	if h.getJob(t, job.ID).Status != domain.JobStatusFailed {
		t.Error("Expected sourceless job failed")
	}
}

func TestSweepExtendsJobsInsideRetryWindow(t *testing.T) {
	h := setupOrchestrator(t)
	started := time.Now().UTC().Add(-46 * time.Minute)
	job := h.createJob(t, &domain.DownloadJob{
		Status:    domain.JobStatusProcessing,
		StartedAt: &started,
		Meta: domain.JobMeta{
			ArtistName:         "Artist",
			AlbumTitle:         "Album",
			RetryWindowMinutes: 60,
		},
	})

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Extended != 1 || result.Failed != 0 {
		t.Errorf("Expected 1 extension, got %+v", result)
	}

	got := h.getJob(t, job.ID)
	if got.Status != domain.JobStatusProcessing {
		t.Errorf("Expected still processing, got %s", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.After(started) {
		t.Error("Expected started timestamp pushed forward")
	}
}

func TestSweepSkipsStalledImportsWithoutSnapshot(t *testing.T) {
	h := setupOrchestrator(t)
	ref := "dl-1"
	started := time.Now().UTC().Add(-3 * time.Hour)
	job := h.createJob(t, &domain.DownloadJob{
		Status:    domain.JobStatusProcessing,
		LidarrRef: &ref,
		StartedAt: &started,
		Meta:      domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("Expected no failures without queue state, got %+v", result)
	}
	if h.getJob(t, job.ID).Status != domain.JobStatusProcessing {
		t.Error("Stalled import must survive a snapshotless sweep")
	}
}

func TestSweepRefreshesActivelyDownloadingImports(t *testing.T) {
	h := setupOrchestrator(t)
	ref := "dl-1"
	started := time.Now().UTC().Add(-3 * time.Hour)
	job := h.createJob(t, &domain.DownloadJob{
		Status:    domain.JobStatusProcessing,
		LidarrRef: &ref,
		StartedAt: &started,
		Meta:      domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})

	snapshot := acquisition.NewSnapshot([]acquisition.QueueItem{
		{DownloadID: "dl-1", Status: "downloading", Progress: 42},
	}, nil)

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Refreshed != 1 || result.Failed != 0 {
		t.Errorf("Expected 1 refresh, got %+v", result)
	}

	got := h.getJob(t, job.ID)
	if got.Status != domain.JobStatusProcessing {
		t.Errorf("Expected still processing, got %s", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.After(started) {
		t.Error("Expected started timestamp refreshed")
	}
}

func TestSweepFailsStalledImports(t *testing.T) {
	h := setupOrchestrator(t)
	ref := "dl-1"
	started := time.Now().UTC().Add(-3 * time.Hour)
	job := h.createJob(t, &domain.DownloadJob{
		Status:    domain.JobStatusProcessing,
		LidarrRef: &ref,
		StartedAt: &started,
		Meta:      domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})

	// Download vanished from the queue entirely.
	snapshot := acquisition.NewSnapshot(nil, nil)

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 failure, got %+v", result)
	}
	got := h.getJob(t, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "Import timed out" {
		t.Errorf("Expected import timeout error, got %v", got.Error)
	}
}

func TestSweepMergesWithCompletedDuplicate(t *testing.T) {
	h := setupOrchestrator(t)
	done := h.createJob(t, &domain.DownloadJob{
		Status:      domain.JobStatusCompleted,
		CompletedAt: timePtr(time.Now().UTC()),
		Meta:        domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})
	stale := h.createJob(t, &domain.DownloadJob{
		UserID:    "user-2",
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		Meta:      domain.JobMeta{ArtistName: "artist", AlbumTitle: "album"},
	})

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Merged != 1 || result.Failed != 0 {
		t.Errorf("Expected merge instead of failure, got %+v", result)
	}

	got := h.getJob(t, stale.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("Expected merged job completed, got %s", got.Status)
	}
	if got.Meta.MergedWithJob != done.ID {
		t.Error("Expected merge link to completed duplicate")
	}
	if len(h.sender.failures) != 0 {
		t.Errorf("Merge must not emit a failure notification, got %d", len(h.sender.failures))
	}
}

func TestSweepMergePreemptsFallback(t *testing.T) {
	h := setupOrchestrator(t)
	done := h.createJob(t, &domain.DownloadJob{
		Status:      domain.JobStatusCompleted,
		CompletedAt: timePtr(time.Now().UTC()),
		Meta:        domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})
	started := time.Now().UTC().Add(-46 * time.Minute)
	stale := h.createJob(t, &domain.DownloadJob{
		UserID:     "user-2",
		Status:     domain.JobStatusProcessing,
		ArtistMBID: "artist-1",
		TargetMBID: "album-a",
		StartedAt:  &started,
		Meta:       domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})

	// An untried release exists, but the album is already in the library.
	h.mock.GetArtistAlbumsFunc = func(ctx context.Context, artistMBID string) ([]acquisition.ArtistAlbum, error) {
		return []acquisition.ArtistAlbum{
			{ID: 2, Title: "Second Album", ForeignAlbumID: "album-b", AlbumType: "album"},
		}, nil
	}

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Merged != 1 || result.Retried != 0 {
		t.Errorf("Expected merge instead of fallback, got %+v", result)
	}

	got := h.getJob(t, stale.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("Expected merged job completed, got %s", got.Status)
	}
	if got.Meta.MergedWithJob != done.ID {
		t.Error("Expected merge link to completed duplicate")
	}

	all, err := h.db.Q().FindJobs(context.Background(), store.JobFilter{})
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected no fallback job spawned, got %d jobs", len(all))
	}
	if len(h.mock.AddAlbumCalls) != 0 {
		t.Errorf("Expected no acquisition submission, got %d", len(h.mock.AddAlbumCalls))
	}
}

func TestSweepFallsBackForEligibleStaleJobs(t *testing.T) {
	h := setupOrchestrator(t)
	started := time.Now().UTC().Add(-46 * time.Minute)
	job := h.createJob(t, &domain.DownloadJob{
		Status:     domain.JobStatusProcessing,
		ArtistMBID: "artist-1",
		TargetMBID: "album-a",
		StartedAt:  &started,
		Meta:       domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})

	h.mock.GetArtistAlbumsFunc = func(ctx context.Context, artistMBID string) ([]acquisition.ArtistAlbum, error) {
		return []acquisition.ArtistAlbum{
			{ID: 2, Title: "Second Album", ForeignAlbumID: "album-b", AlbumType: "album"},
		}, nil
	}

	result, err := h.orch.MarkStaleJobsAsFailed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.Retried != 1 {
		t.Errorf("Expected 1 fallback retry, got %+v", result)
	}
	if h.getJob(t, job.ID).Status != domain.JobStatusExhausted {
		t.Error("Expected stale job handed off as exhausted")
	}
}
