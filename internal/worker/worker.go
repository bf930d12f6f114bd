// Package worker polls the remote job system for the status of queued
// background imports and keeps the local job registry in sync.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kargohq/stevedore/internal/analyst"
	"github.com/kargohq/stevedore/internal/storage"
)

// JobStore abstracts the local job registry operations.
type JobStore interface {
	ListActiveJobs(limit int) ([]storage.JobRecord, error)
	UpdateJobStatus(jobID, status string, progress int, message string) error
}

// StatusSource reports the lifecycle of a queued background import.
type StatusSource interface {
	GetJobStatus(ctx context.Context, jobID string) (*analyst.JobStatus, error)
}

// Worker periodically syncs active registry entries with the remote job
// system. Finished jobs stay in the registry with their final status so the
// user can read the outcome; cleanup happens via the staleness purge.
type Worker struct {
	store  JobStore
	source StatusSource
	poll   time.Duration
	batch  int
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 30s.
func NewWorker(store JobStore, source StatusSource, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Worker{
		store:  store,
		source: source,
		poll:   pollInterval,
		batch:  20,
		logger: slog.Default(),
	}
}

// Run polls for active jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("job sync iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce syncs one batch of active jobs. Returns the number of jobs whose
// status changed. A failed status lookup for one job does not stop the batch.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.store.ListActiveJobs(w.batch)
	if err != nil {
		return 0, fmt.Errorf("listing active jobs: %w", err)
	}

	updated := 0
	for _, job := range jobs {
		status, err := w.source.GetJobStatus(ctx, job.JobID)
		if err != nil {
			w.logger.Warn("fetching job status", "job_id", job.JobID, "error", err)
			continue
		}
		if status.Status == job.Status && status.Progress == job.Progress {
			continue
		}
		if err := w.store.UpdateJobStatus(job.JobID, status.Status, status.Progress, status.Message); err != nil {
			w.logger.Error("updating job status", "job_id", job.JobID, "error", err)
			continue
		}
		if status.Status == storage.JobCompleted || status.Status == storage.JobFailed {
			w.logger.Info("background import finished",
				"job_id", job.JobID, "session_id", job.SessionID, "status", status.Status)
		}
		updated++
	}
	return updated, nil
}
