package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Import job statuses. Jobs only ever move forward: NEW -> RUNNING ->
// COMPLETE or ERROR. Rows are never deleted; the table doubles as the
// import audit trail.
const (
	ImportNew      = "NEW"
	ImportRunning  = "RUNNING"
	ImportComplete = "COMPLETE"
	ImportError    = "ERROR"
)

// ImportJob is one upload lifecycle record.
type ImportJob struct {
	ID           string
	Owner        string
	FilePath     string
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// ErrImportActive reports that the owner already has a NEW or RUNNING job.
// The idx_import_active unique index raises it, so two concurrent submits
// for the same owner cannot both create a job.
var ErrImportActive = errors.New("store: owner already has an active import")

// CreateImportJob records a fresh NEW job for the owner's uploaded file.
// Returns ErrImportActive when another job for the owner is still in flight.
func (s *Store) CreateImportJob(ctx context.Context, id, owner, filePath string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO import_jobs
		(id, owner, file_path, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, owner, filePath, ImportNew, time.Now().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "idx_import_active") {
			return ErrImportActive
		}
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

// GetImportJob loads one job by id.
func (s *Store) GetImportJob(ctx context.Context, id string) (*ImportJob, error) {
	j := &ImportJob{}
	var created int64
	var completed sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT id, owner, file_path, status,
		error_message, created_at, completed_at FROM import_jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Owner, &j.FilePath, &j.Status, &j.ErrorMessage, &created, &completed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import job %s: %w", id, err)
	}
	j.CreatedAt = time.Unix(created, 0)
	if completed.Valid {
		j.CompletedAt = time.Unix(completed.Int64, 0)
	}
	return j, nil
}

// MarkImportRunning flips a NEW job to RUNNING. Returns ErrNotFound when the
// job is missing or already past NEW, which makes the transition idempotent
// under queue redelivery.
func (s *Store) MarkImportRunning(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE import_jobs SET status = ?
		WHERE id = ? AND status = ?`, ImportRunning, id, ImportNew)
	if err != nil {
		return fmt.Errorf("mark import running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteImportJob finishes a job as COMPLETE.
func (s *Store) CompleteImportJob(ctx context.Context, id string) error {
	return s.finishImport(ctx, id, ImportComplete, "")
}

// FailImportJob finishes a job as ERROR with the failure message.
func (s *Store) FailImportJob(ctx context.Context, id, msg string) error {
	return s.finishImport(ctx, id, ImportError, msg)
}

func (s *Store) finishImport(ctx context.Context, id, status, msg string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE import_jobs
		SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		status, msg, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("finish import job %s: %w", id, err)
	}
	return nil
}

// ActiveImportJob returns the owner's in-flight job (NEW or RUNNING), if
// any. Only one upload per owner may be in flight at a time.
func (s *Store) ActiveImportJob(ctx context.Context, owner string) (*ImportJob, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `SELECT id FROM import_jobs
		WHERE owner = ? AND status IN (?, ?)
		ORDER BY created_at LIMIT 1`, owner, ImportNew, ImportRunning).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active import job: %w", err)
	}
	return s.GetImportJob(ctx, id)
}

// QueuePosition counts NEW jobs created before the given job, i.e. how many
// uploads are ahead of it.
func (s *Store) QueuePosition(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_jobs
		WHERE status = ? AND created_at < (SELECT created_at FROM import_jobs WHERE id = ?)`,
		ImportNew, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return n, nil
}

// ListStuckRunning returns jobs still RUNNING whose creation predates the
// cutoff. The boot recovery scan logs these; a crash mid-import leaves them
// behind.
func (s *Store) ListStuckRunning(ctx context.Context, olderThan time.Duration) ([]*ImportJob, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM import_jobs
		WHERE status = ? AND created_at < ? ORDER BY created_at`,
		ImportRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck running: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jobs := make([]*ImportJob, 0, len(ids))
	for _, id := range ids {
		j, err := s.GetImportJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
