package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Worker claims pending extraction jobs and runs them on a bounded pool.
type Worker struct {
	pipeline    *Pipeline
	concurrency int
	poll        time.Duration
	logger      *slog.Logger
}

// NewWorker creates a Worker for the pipeline.
// If pollInterval is <= 0, it defaults to 2s; concurrency defaults to 2.
func NewWorker(p *Pipeline, concurrency int, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Worker{
		pipeline:    p,
		concurrency: concurrency,
		poll:        pollInterval,
		logger:      slog.Default(),
	}
}

// Run claims jobs until ctx is cancelled, then waits for in-flight
// extractions to finish. Tasks are detached from ctx cancellation and
// bounded by the pipeline timeout instead.
func (w *Worker) Run(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	taskCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			break
		}

		job, err := w.pipeline.store.ClaimNextExtractionJob(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("claiming extraction job", "error", err)
		}
		if job != nil {
			j := *job
			w.logger.Debug("job claimed", "job_id", j.ID, "attempt", j.Attempts)
			g.Go(func() error {
				if err := w.pipeline.RunExtraction(taskCtx, j); err != nil {
					w.logger.Error("extraction task", "job_id", j.ID, "error", err)
				}
				return nil
			})
			continue
		}

		select {
		case <-ctx.Done():
		case <-w.pipeline.Wake():
		case <-time.After(w.poll):
		}
	}

	g.Wait()
}

// RunOnce claims and processes a single job synchronously.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.pipeline.store.ClaimNextExtractionJob(ctx)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	if err := w.pipeline.RunExtraction(ctx, *job); err != nil {
		return true, err
	}
	return true, nil
}
