// Package worker runs the orchestrator's periodic maintenance: the
// stale-job sweep on one cadence and reconcile + queue sync on another.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/soundspan/soundspan/internal/acquisition"
	"github.com/soundspan/soundspan/internal/constants"
	"github.com/soundspan/soundspan/internal/logger"
	"github.com/soundspan/soundspan/internal/orchestrator"
)

type Worker struct {
	Orchestrator  *orchestrator.Orchestrator
	Acquirer      acquisition.Client
	SweepInterval time.Duration
	SyncInterval  time.Duration
	Logger        *logger.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorker(orch *orchestrator.Orchestrator, acquirer acquisition.Client) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		Orchestrator:  orch,
		Acquirer:      acquirer,
		SweepInterval: constants.DefaultSweepInterval,
		SyncInterval:  constants.DefaultSyncInterval,
		Logger:        logger.Default().WithComponent("worker"),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (w *Worker) Start() {
	w.Logger.Info("Starting maintenance worker",
		"sweep_interval", w.SweepInterval, "sync_interval", w.SyncInterval)

	w.wg.Add(2)
	go w.sweepLoop()
	go w.syncLoop()
}

func (w *Worker) Stop() {
	w.Logger.Info("Stopping maintenance worker")
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) sweepLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.runSweep()
		}
	}
}

func (w *Worker) syncLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.runSync()
		}
	}
}

func (w *Worker) runSweep() {
	snapshot := w.snapshot()
	result, err := w.Orchestrator.MarkStaleJobsAsFailed(w.ctx, snapshot)
	if err != nil {
		w.Logger.Error("Stale sweep failed", "error", err)
		return
	}
	if result.Scanned > 0 {
		w.Logger.Info("Stale sweep done",
			"scanned", result.Scanned, "failed", result.Failed,
			"retried", result.Retried, "extended", result.Extended)
	}
}

func (w *Worker) runSync() {
	snapshot := w.snapshot()
	if snapshot == nil {
		return
	}

	recon, err := w.Orchestrator.ReconcileWithLidarr(w.ctx, snapshot)
	if err != nil {
		w.Logger.Error("Reconcile failed", "error", err)
	}

	sync, err := w.Orchestrator.SyncWithLidarrQueue(w.ctx, snapshot)
	if err != nil {
		w.Logger.Error("Queue sync failed", "error", err)
		return
	}
	if recon.Completed > 0 || sync.Misses > 0 {
		w.Logger.Info("Queue pass done",
			"queue_size", snapshot.QueueSize(),
			"reconciled", recon.Completed, "misses", sync.Misses,
			"reattached", sync.Reattached, "cancelled", sync.Cancelled)
	}
}

// snapshot fetches queue state once per cycle; nil on failure so the
// passes degrade instead of acting on stale assumptions.
func (w *Worker) snapshot() *acquisition.Snapshot {
	snapshot, err := w.Acquirer.GetSnapshot(w.ctx)
	if err != nil {
		w.Logger.Warn("Snapshot unavailable", "error", err)
		return nil
	}
	return snapshot
}
