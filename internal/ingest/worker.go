package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/contextmore/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Ingester replays a request through the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, req Request) (Result, error)
}

// Worker replays updates that were interrupted between deleting the old
// chunks and writing the new ones.
type Worker struct {
	store    JobStore
	ingester Ingester
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, ingester Ingester, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		ingester: ingester,
		poll:     pollInterval,
		logger:   slog.Default().With("component", "recovery"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single reingest job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeReingest})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	err = w.processJob(ctx, job)
	if errors.Is(err, ErrSuperseded) {
		w.logger.Info("skipping superseded update", "job_id", job.ID, "source", job.Subject)
		err = nil
	}
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var req Request
	if err := json.Unmarshal([]byte(job.PayloadJSON), &req); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	req.replay = true
	req.jobID = job.ID
	req.journaledAt = job.CreatedAt

	res, err := w.ingester.Ingest(ctx, req)
	if err != nil {
		return fmt.Errorf("replaying %s: %w", req.SourceIdentity, err)
	}
	w.logger.Info("interrupted update recovered", "job_id", job.ID, "doc_id", res.DocID, "chunks", res.ChunkCount)
	return nil
}
