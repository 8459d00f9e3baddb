package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/domain"
)

func processingJobWithRef(h *testHarness, t *testing.T, ref string) *domain.DownloadJob {
	t.Helper()
	started := time.Now().UTC().Add(-10 * time.Minute)
	return h.createJob(t, &domain.DownloadJob{
		Status:     domain.JobStatusProcessing,
		TargetMBID: "album-a",
		LidarrRef:  &ref,
		StartedAt:  &started,
		Meta:       domain.JobMeta{ArtistName: "Artist", AlbumTitle: "Album"},
	})
}

func TestQueueSyncToleratesMissesInsideGracePeriod(t *testing.T) {
	h := setupOrchestrator(t)
	job := processingJobWithRef(h, t, "dl-1")
	empty := acquisition.NewSnapshot(nil, nil)

	for pass := 1; pass <= 2; pass++ {
		result, err := h.orch.SyncWithLidarrQueue(context.Background(), empty)
		if err != nil {
			t.Fatalf("Pass %d failed: %v", pass, err)
		}
		if result.Cancelled != 0 {
			t.Fatalf("Pass %d: expected no cancellation, got %+v", pass, result)
		}
		got := h.getJob(t, job.ID)
		if got.Status != domain.JobStatusProcessing {
			t.Fatalf("Pass %d: expected still processing, got %s", pass, got.Status)
		}
		if got.Meta.QueueSyncMiss != pass {
			t.Errorf("Pass %d: expected %d misses recorded, got %d", pass, pass, got.Meta.QueueSyncMiss)
		}
	}
}

func TestQueueSyncCancelsAfterGracePeriod(t *testing.T) {
	h := setupOrchestrator(t)
	job := processingJobWithRef(h, t, "dl-1")
	empty := acquisition.NewSnapshot(nil, nil)

	var result QueueSyncResult
	var err error
	for pass := 0; pass < 3; pass++ {
		result, err = h.orch.SyncWithLidarrQueue(context.Background(), empty)
		if err != nil {
			t.Fatalf("Sync pass failed: %v", err)
		}
	}
	if result.Cancelled != 1 {
		t.Fatalf("Expected cancellation on third miss, got %+v", result)
	}

	got := h.getJob(t, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if !got.Meta.QueueSyncCancelled {
		t.Error("Expected queue sync cancellation flag")
	}
	if got.LidarrRef != nil {
		t.Error("Expected ref cleared")
	}
	if got.Error == nil || !strings.Contains(*got.Error, "grace period") {
		t.Errorf("Expected grace period error, got %v", got.Error)
	}
	if len(got.Meta.PreviousDownloadIDs) != 1 || got.Meta.PreviousDownloadIDs[0] != "dl-1" {
		t.Errorf("Expected old ref archived, got %v", got.Meta.PreviousDownloadIDs)
	}
}

func TestQueueSyncResetsCounterWhenDownloadReappears(t *testing.T) {
	h := setupOrchestrator(t)
	job := processingJobWithRef(h, t, "dl-1")
	empty := acquisition.NewSnapshot(nil, nil)
	present := acquisition.NewSnapshot([]acquisition.QueueItem{
		{DownloadID: "dl-1", Status: "downloading"},
	}, nil)

	if _, err := h.orch.SyncWithLidarrQueue(context.Background(), empty); err != nil {
		t.Fatalf("Miss pass failed: %v", err)
	}
	if _, err := h.orch.SyncWithLidarrQueue(context.Background(), present); err != nil {
		t.Fatalf("Reset pass failed: %v", err)
	}

	got := h.getJob(t, job.ID)
	if got.Meta.QueueSyncMiss != 0 {
		t.Errorf("Expected counter reset, got %d", got.Meta.QueueSyncMiss)
	}
}

func TestQueueSyncReattachesToReplacement(t *testing.T) {
	h := setupOrchestrator(t)
	job := processingJobWithRef(h, t, "dl-1")

	replacement := acquisition.NewSnapshot([]acquisition.QueueItem{
		{DownloadID: "dl-2", Title: "Artist - Album [FLAC]", ArtistName: "Artist", Status: "downloading"},
	}, nil)

	var err error
	for pass := 0; pass < 3; pass++ {
		_, err = h.orch.SyncWithLidarrQueue(context.Background(), replacement)
		if err != nil {
			t.Fatalf("Sync pass failed: %v", err)
		}
	}

	got := h.getJob(t, job.ID)
	if got.Status != domain.JobStatusProcessing {
		t.Errorf("Expected still processing after re-attach, got %s", got.Status)
	}
	if got.LidarrRef == nil || *got.LidarrRef != "dl-2" {
		t.Errorf("Expected re-attached to dl-2, got %v", got.LidarrRef)
	}
	if len(got.Meta.PreviousDownloadIDs) != 1 || got.Meta.PreviousDownloadIDs[0] != "dl-1" {
		t.Errorf("Expected dl-1 archived, got %v", got.Meta.PreviousDownloadIDs)
	}
	if got.Meta.QueueSyncMiss != 0 {
		t.Errorf("Expected counter reset after re-attach, got %d", got.Meta.QueueSyncMiss)
	}
}

func TestQueueSyncCompletesWhenAlbumArrived(t *testing.T) {
	h := setupOrchestrator(t)
	job := processingJobWithRef(h, t, "dl-1")

	arrived := acquisition.NewSnapshot(nil, []acquisition.AvailableAlbum{
		{MBID: "album-a", Artist: "Artist", Album: "Album"},
	})

	var result QueueSyncResult
	var err error
	for pass := 0; pass < 3; pass++ {
		result, err = h.orch.SyncWithLidarrQueue(context.Background(), arrived)
		if err != nil {
			t.Fatalf("Sync pass failed: %v", err)
		}
	}
	if result.Completed != 1 {
		t.Fatalf("Expected completion, got %+v", result)
	}

	got := h.getJob(t, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if len(h.sender.completes) != 1 {
		t.Errorf("Expected completion notification, got %d", len(h.sender.completes))
	}
}

func TestQueueSyncNilSnapshotIsNoOp(t *testing.T) {
	h := setupOrchestrator(t)
	job := processingJobWithRef(h, t, "dl-1")

	result, err := h.orch.SyncWithLidarrQueue(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Checked != 0 || result.Misses != 0 {
		t.Errorf("Expected no-op, got %+v", result)
	}
	if h.getJob(t, job.ID).Meta.QueueSyncMiss != 0 {
		t.Error("Nil snapshot must not record misses")
	}
}
