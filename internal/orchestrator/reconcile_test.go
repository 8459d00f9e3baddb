package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/domain"
)

func TestReconcileCompletesAvailableAlbums(t *testing.T) {
	h := setupOrchestrator(t)
	started := time.Now().UTC().Add(-time.Hour)
	byMBID := h.createJob(t, &domain.DownloadJob{
		Status:     domain.JobStatusProcessing,
		TargetMBID: "album-a",
		StartedAt:  &started,
		Meta:       domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album A"},
	})
	byName := h.createJob(t, &domain.DownloadJob{
		UserID:    "user-2",
		Status:    domain.JobStatusProcessing,
		StartedAt: &started,
		Meta:      domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album B"},
	})
	pending := h.createJob(t, &domain.DownloadJob{
		UserID:     "user-3",
		Status:     domain.JobStatusProcessing,
		TargetMBID: "album-c",
		StartedAt:  &started,
		Meta:       domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album C"},
	})

	snapshot := acquisition.NewSnapshot(nil, []acquisition.AvailableAlbum{
		{MBID: "album-a"},
		{Artist: "artist", Album: "album b"},
	})

	result, err := h.orch.ReconcileWithLidarr(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Checked != 3 || result.Completed != 2 {
		t.Errorf("Expected 2 of 3 completed, got %+v", result)
	}

	for _, id := range []string{byMBID.ID, byName.ID} {
		got := h.getJob(t, id)
		if got.Status != domain.JobStatusCompleted {
			t.Errorf("Job %s: expected completed, got %s", id, got.Status)
		}
		if got.CompletedAt == nil {
			t.Errorf("Job %s: expected completion timestamp", id)
		}
	}
	if h.getJob(t, pending.ID).Status != domain.JobStatusProcessing {
		t.Error("Unavailable album must stay processing")
	}
}

func TestReconcileMatchesByReportedMBID(t *testing.T) {
	h := setupOrchestrator(t)
	started := time.Now().UTC().Add(-time.Hour)
	job := h.createJob(t, &domain.DownloadJob{
		Status:     domain.JobStatusProcessing,
		TargetMBID: "requested-mbid",
		StartedAt:  &started,
		Meta: domain.JobMeta{
			ArtistName: "Artist",
			AlbumTitle: "Album",
			LidarrMBID: "reported-mbid",
		},
	})

	snapshot := acquisition.NewSnapshot(nil, []acquisition.AvailableAlbum{
		{MBID: "reported-mbid"},
	})

	result, err := h.orch.ReconcileWithLidarr(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Completed != 1 {
		t.Errorf("Expected completion via reported mbid, got %+v", result)
	}
	if h.getJob(t, job.ID).Status != domain.JobStatusCompleted {
		t.Error("Expected job completed")
	}
}

func TestReconcileSignalsEachBatchOnce(t *testing.T) {
	h := setupOrchestrator(t)
	started := time.Now().UTC().Add(-time.Hour)
	for i, mbid := range []string{"album-a", "album-b"} {
		h.createJob(t, &domain.DownloadJob{
			UserID:           "user-1",
			Status:           domain.JobStatusProcessing,
			TargetMBID:       mbid,
			StartedAt:        &started,
			DiscoveryBatchID: strPtr("batch-1"),
			Meta: domain.JobMeta{
				ArtistName:   "Artist",
				AlbumTitle:   "Album " + string(rune('A'+i)),
				DownloadType: domain.DownloadTypeDiscovery,
			},
		})
	}

	snapshot := acquisition.NewSnapshot(nil, []acquisition.AvailableAlbum{
		{MBID: "album-a"},
		{MBID: "album-b"},
	})

	if _, err := h.orch.ReconcileWithLidarr(context.Background(), snapshot); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(h.batches.batches) != 1 || h.batches.batches[0] != "batch-1" {
		t.Errorf("Expected batch-1 signaled exactly once, got %v", h.batches.batches)
	}
}

func TestReconcileNilSnapshotIsNoOp(t *testing.T) {
	h := setupOrchestrator(t)
	started := time.Now().UTC().Add(-time.Hour)
	job := h.createJob(t, &domain.DownloadJob{
		Status:     domain.JobStatusProcessing,
		TargetMBID: "album-a",
		StartedAt:  &started,
		Meta:       domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})

	result, err := h.orch.ReconcileWithLidarr(context.Background(), nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Checked != 0 || result.Completed != 0 {
		t.Errorf("Expected no-op, got %+v", result)
	}
	if h.getJob(t, job.ID).Status != domain.JobStatusProcessing {
		t.Error("Nil snapshot must not touch jobs")
	}
}
