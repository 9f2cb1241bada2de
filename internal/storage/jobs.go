package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, document_id, status, error_message, model_used, processing_time_ms,
	attempts, spool_path, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertExtractionJob inserts a pending job. A document can have at most one
// job; a second insert returns ErrDuplicateJob.
func insertExtractionJob(ctx context.Context, db execer, job ExtractionJob) error {
	now := formatTime(time.Now())
	_, err := db.ExecContext(ctx, `
		INSERT INTO extraction_jobs (id, document_id, status, spool_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, JobPending, job.SpoolPath, now, now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("document %s: %w", job.DocumentID, ErrDuplicateJob)
	}
	if err != nil {
		return fmt.Errorf("inserting extraction job: %w", err)
	}
	return nil
}

func (s *Store) GetExtractionJob(ctx context.Context, id string) (ExtractionJob, error) {
	return s.getJob(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE id = ?`, id)
}

// GetJobByDocument returns the extraction job of a document.
func (s *Store) GetJobByDocument(ctx context.Context, documentID string) (ExtractionJob, error) {
	return s.getJob(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE document_id = ?`, documentID)
}

func (s *Store) getJob(ctx context.Context, query string, arg string) (ExtractionJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return ExtractionJob{}, ErrNotFound
	}
	return j, err
}

// ClaimNextExtractionJob moves the oldest pending job to processing and
// returns it. It returns nil when nothing is pending or another claimer won.
func (s *Store) ClaimNextExtractionJob(ctx context.Context) (*ExtractionJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM extraction_jobs
		WHERE status = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`, JobPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	now := time.Now().UTC()
	err = transitionJob(ctx, tx, j.ID, JobPending, JobProcessing, now, `, attempts = attempts + 1`)
	if errors.Is(err, ErrInvalidTransition) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = JobProcessing
	j.Attempts++
	j.UpdatedAt = now.Truncate(time.Second)
	return &j, nil
}

// CompleteExtraction records a successful extraction: the document receives
// the extracted fields and the job moves from processing to completed, in a
// single transaction.
func (s *Store) CompleteExtraction(ctx context.Context, jobID string, out ExtractionOutcome) error {
	data, err := json.Marshal(out.Fields)
	if err != nil {
		return fmt.Errorf("encoding extracted data: %w", err)
	}

	modelUsed := out.Model
	if modelUsed == "" {
		modelUsed = out.Method
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning completion transaction: %w", err)
	}
	defer tx.Rollback()

	var documentID string
	err = tx.QueryRowContext(ctx, `SELECT document_id FROM extraction_jobs WHERE id = ?`, jobID).Scan(&documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := transitionJob(ctx, tx, jobID, JobProcessing, JobCompleted, time.Now(),
		`, model_used = ?, processing_time_ms = ?, spool_path = ''`, modelUsed, out.ProcessingTimeMs); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET extracted_data = ?, confidence_score = ?, extraction_method = ?, needs_review = ?
		WHERE id = ?`,
		string(data), out.Confidence, out.Method, out.NeedsReview, documentID,
	); err != nil {
		return fmt.Errorf("updating document %s: %w", documentID, err)
	}

	return tx.Commit()
}

// FailExtraction moves a processing job to failed. The document is left untouched.
func (s *Store) FailExtraction(ctx context.Context, jobID, errMsg, modelUsed string, processingTimeMs int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	if err := transitionJob(ctx, tx, jobID, JobProcessing, JobFailed, time.Now(),
		`, error_message = ?, model_used = ?, processing_time_ms = ?, spool_path = ''`,
		errMsg, modelUsed, processingTimeMs); err != nil {
		return err
	}
	return tx.Commit()
}

// ListStaleJobs returns jobs that have been processing since before cutoff.
func (s *Store) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]ExtractionJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM extraction_jobs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC`, JobProcessing, formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ExtractionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus returns the number of jobs per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM extraction_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// transitionJob updates a job's status only if it is currently in from.
// extra is appended to the SET clause and its args precede the WHERE args.
func transitionJob(ctx context.Context, tx *sql.Tx, id string, from, to JobStatus, now time.Time, extra string, args ...any) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	query := `UPDATE extraction_jobs SET status = ?, updated_at = ?` + extra + ` WHERE id = ? AND status = ?`
	all := make([]any, 0, len(args)+4)
	all = append(all, to, formatTime(now))
	all = append(all, args...)
	all = append(all, id, from)

	res, err := tx.ExecContext(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("updating job %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current JobStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM extraction_jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, not %s", ErrInvalidTransition, id, current, from)
}

func scanJob(row scanner) (ExtractionJob, error) {
	var j ExtractionJob
	var createdAt, updatedAt string
	if err := row.Scan(&j.ID, &j.DocumentID, &j.Status, &j.ErrorMessage, &j.ModelUsed,
		&j.ProcessingTimeMs, &j.Attempts, &j.SpoolPath, &createdAt, &updatedAt); err != nil {
		return ExtractionJob{}, err
	}
	var err error
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ExtractionJob{}, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return ExtractionJob{}, err
	}
	return j, nil
}
