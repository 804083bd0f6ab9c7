package repository

import (
	"context"
	"time"

	"customer-auth/internal/domain"
)

// ExportJobRepository exposes persistence operations for export jobs.
type ExportJobRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, job *domain.ExportJob) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status domain.ExportStatus, errorMessage *string) error
	MarkCompleted(ctx context.Context, id int64, location string, rowCount int, completedAt time.Time) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*domain.ExportJob, error)
	List(ctx context.Context) ([]domain.ExportJob, error)
	ListByStatuses(ctx context.Context, statuses ...domain.ExportStatus) ([]domain.ExportJob, error)
}
