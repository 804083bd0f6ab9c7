package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"customer-auth/internal/domain"
	"customer-auth/internal/repository"
)

// ErrExportNotFound is returned when no export job has the requested id.
var ErrExportNotFound = errors.New("export job not found")

// ExportService coordinates export job bookkeeping backed by a repository.
type ExportService interface {
	CreateJob(ctx context.Context, model, query, requestedBy string) (*domain.ExportJob, error)
	GetJob(ctx context.Context, id int64) (*domain.ExportJob, error)
	ListJobs(ctx context.Context) ([]domain.ExportJob, error)
	ListByStatuses(ctx context.Context, statuses ...domain.ExportStatus) ([]domain.ExportJob, error)
	UpdateStatus(ctx context.Context, id int64, status domain.ExportStatus, errMsg *string) error
	MarkCompleted(ctx context.Context, id int64, location string, rowCount int) error
	DeleteJob(ctx context.Context, id int64) error
}

type exportService struct {
	jobs repository.ExportJobRepository
}

func NewExportService(jobs repository.ExportJobRepository) ExportService {
	return &exportService{jobs: jobs}
}

func (s *exportService) CreateJob(ctx context.Context, model, query, requestedBy string) (*domain.ExportJob, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("export model is required")
	}

	job := &domain.ExportJob{
		Model:       model,
		Query:       strings.TrimPrefix(query, "?"),
		Status:      domain.ExportStatusPending,
		RequestedBy: requestedBy,
	}
	if _, err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *exportService) GetJob(ctx context.Context, id int64) (*domain.ExportJob, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, exportNotFound(err)
	}
	return job, nil
}

func (s *exportService) ListJobs(ctx context.Context) ([]domain.ExportJob, error) {
	return s.jobs.List(ctx)
}

func (s *exportService) ListByStatuses(ctx context.Context, statuses ...domain.ExportStatus) ([]domain.ExportJob, error) {
	return s.jobs.ListByStatuses(ctx, statuses...)
}

func (s *exportService) UpdateStatus(ctx context.Context, id int64, status domain.ExportStatus, errMsg *string) error {
	return exportNotFound(s.jobs.UpdateStatus(ctx, id, status, errMsg))
}

func (s *exportService) MarkCompleted(ctx context.Context, id int64, location string, rowCount int) error {
	return exportNotFound(s.jobs.MarkCompleted(ctx, id, location, rowCount, time.Now()))
}

func (s *exportService) DeleteJob(ctx context.Context, id int64) error {
	return exportNotFound(s.jobs.Delete(ctx, id))
}

func exportNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return ErrExportNotFound
	}
	return err
}
