// Package reaper fails extraction jobs left in processing by a worker that
// died or was killed mid-run.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/freightdocs/internal/ingest"
	"github.com/kalambet/freightdocs/internal/storage"
)

// AbandonedMessage is recorded on jobs the reaper fails.
const AbandonedMessage = "extraction abandoned"

// Store is the slice of storage the reaper needs.
type Store interface {
	ListStaleJobs(ctx context.Context, cutoff time.Time) ([]storage.ExtractionJob, error)
	FailExtraction(ctx context.Context, jobID, errMsg, modelUsed string, processingTimeMs int64) error
}

// Reaper periodically fails jobs that stayed in processing longer than staleAfter.
type Reaper struct {
	cron       *cron.Cron
	store      Store
	spec       string
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Reaper that sweeps every interval.
func New(store Store, interval, staleAfter time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Reaper{
		cron:       cron.New(),
		store:      store,
		spec:       fmt.Sprintf("@every %s", interval),
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// Start registers the sweep and starts the scheduler. One sweep runs
// immediately so jobs orphaned by the previous process are failed at boot.
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.spec, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Warn("reaper sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	r.cron.Start()
	r.logger.Info("reaper started", "spec", r.spec, "stale_after", r.staleAfter)

	go func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Warn("reaper sweep failed", "error", err)
		}
	}()
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("reaper stopped")
}

// Sweep fails every stale job once and returns how many it failed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	jobs, err := r.store.ListStaleJobs(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("listing stale jobs: %w", err)
	}

	reaped := 0
	for _, job := range jobs {
		elapsed := now.Sub(job.UpdatedAt).Milliseconds()
		err := r.store.FailExtraction(ctx, job.ID, AbandonedMessage, "", elapsed)
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Finished between the listing and the update.
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("failing job %s: %w", job.ID, err)
		}
		if err := ingest.RemoveSpool(job.SpoolPath); err != nil {
			r.logger.Warn("removing spool file", "path", job.SpoolPath, "error", err)
		}
		reaped++
		r.logger.Warn("extraction job abandoned", "job_id", job.ID, "document_id", job.DocumentID,
			"processing_since", job.UpdatedAt)
	}
	return reaped, nil
}
