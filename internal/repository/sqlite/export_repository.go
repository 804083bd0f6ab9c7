package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"customer-auth/internal/domain"
	"customer-auth/internal/repository"
)

const createExportJobsTable = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model TEXT NOT NULL,
	query TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	row_count INTEGER NOT NULL DEFAULT 0,
	location TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	requested_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME NULL
);
`

const selectExportColumns = `id, model, query, status, row_count, location, error_message, requested_by, created_at, updated_at, completed_at`

type ExportJobRepository struct {
	db *sql.DB
}

func NewExportJobRepository(db *sql.DB) repository.ExportJobRepository {
	return &ExportJobRepository{db: db}
}

func (r *ExportJobRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createExportJobsTable); err != nil {
		return fmt.Errorf("create export_jobs table: %w", err)
	}
	return nil
}

func (r *ExportJobRepository) Create(ctx context.Context, job *domain.ExportJob) (int64, error) {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO export_jobs (model, query, status, row_count, location, error_message, requested_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Model,
		job.Query,
		string(job.Status),
		job.RowCount,
		job.Location,
		job.ErrorMessage,
		job.RequestedBy,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert export job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	job.ID = id
	return id, nil
}

func (r *ExportJobRepository) UpdateStatus(ctx context.Context, id int64, status domain.ExportStatus, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE export_jobs
SET status=?, error_message=?, updated_at=?
WHERE id=?`,
		string(status),
		msg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update export status: %w", err)
	}
	return requireAffected(res, "update export status")
}

func (r *ExportJobRepository) MarkCompleted(ctx context.Context, id int64, location string, rowCount int, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE export_jobs
SET status=?, location=?, row_count=?, error_message='', completed_at=?, updated_at=?
WHERE id=?`,
		string(domain.ExportStatusCompleted),
		location,
		rowCount,
		completedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark export completed: %w", err)
	}
	return requireAffected(res, "mark export completed")
}

func (r *ExportJobRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete export job: %w", err)
	}
	return requireAffected(res, "delete export job")
}

func (r *ExportJobRepository) Get(ctx context.Context, id int64) (*domain.ExportJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+selectExportColumns+`
FROM export_jobs
WHERE id=?`,
		id,
	)
	return scanExportJob(row)
}

func (r *ExportJobRepository) List(ctx context.Context) ([]domain.ExportJob, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+selectExportColumns+`
FROM export_jobs
ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query export jobs: %w", err)
	}
	defer rows.Close()

	return collectExportJobs(rows)
}

func (r *ExportJobRepository) ListByStatuses(ctx context.Context, statuses ...domain.ExportStatus) ([]domain.ExportJob, error) {
	if len(statuses) == 0 {
		return []domain.ExportJob{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(`
SELECT `+selectExportColumns+`
FROM export_jobs
WHERE status IN (%s)
ORDER BY id ASC`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query export jobs by status: %w", err)
	}
	defer rows.Close()

	return collectExportJobs(rows)
}

func collectExportJobs(rows *sql.Rows) ([]domain.ExportJob, error) {
	jobs := []domain.ExportJob{}
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanExportJob(scanner interface {
	Scan(dest ...any) error
}) (*domain.ExportJob, error) {
	var (
		job         domain.ExportJob
		status      string
		completedAt sql.NullTime
	)

	if err := scanner.Scan(
		&job.ID,
		&job.Model,
		&job.Query,
		&status,
		&job.RowCount,
		&job.Location,
		&job.ErrorMessage,
		&job.RequestedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("export job: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan export job: %w", err)
	}

	job.Status = domain.ExportStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
