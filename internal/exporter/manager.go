package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"customer-auth/internal/admin"
	"customer-auth/internal/domain"
	"customer-auth/internal/service"
	"customer-auth/internal/storage"
)

var (
	// ErrStorageDisabled is returned when exports are requested without a bucket.
	ErrStorageDisabled = errors.New("export storage not configured")
	// ErrExportCancelled is recorded on jobs stopped through Cancel.
	ErrExportCancelled = errors.New("export cancelled")
)

// Manager runs changelist exports in the background and uploads the
// resulting CSV files.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, jobID int64) error
	Resume(ctx context.Context) error
	Cancel(ctx context.Context, jobID int64) error
}

type Config struct {
	Bucket        string
	KeyPrefix     string
	MaxConcurrent int
	Logger        *logrus.Logger
}

type manager struct {
	cfg     Config
	site    *admin.Site
	exports service.ExportService
	storage storage.Service

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[int64]*jobHandle
}

type jobHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, site *admin.Site, exports service.ExportService, store storage.Service) Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:     cfg,
		site:    site,
		exports: exports,
		storage: store,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		active:  make(map[int64]*jobHandle),
	}
}

func (m *manager) Start(ctx context.Context) error {
	if m.storage == nil || m.cfg.Bucket == "" {
		m.cfg.Logger.Warn("export storage not configured, exports disabled")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cfg.Logger.Infof("export manager started, max concurrent: %d", m.cfg.MaxConcurrent)
	return nil
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("export manager stopped")
}

func (m *manager) Enqueue(ctx context.Context, jobID int64) error {
	if m.ctx == nil {
		return errors.New("export manager not started")
	}
	job, err := m.exports.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	m.spawnJob(*job)
	return nil
}

// Resume restarts every job that was unfinished when the process stopped.
func (m *manager) Resume(ctx context.Context) error {
	jobs, err := m.exports.ListByStatuses(ctx,
		domain.ExportStatusPending,
		domain.ExportStatusRunning,
		domain.ExportStatusUploading,
	)
	if err != nil {
		return err
	}
	for i := range jobs {
		m.spawnJob(jobs[i])
	}
	return nil
}

// Cancel stops a queued or running job, marks it failed and waits for its
// goroutine to exit. Unknown or finished jobs are ignored.
func (m *manager) Cancel(ctx context.Context, jobID int64) error {
	handle, ok := m.getJobHandle(jobID)
	if !ok {
		return nil
	}
	handle.cancel()

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) spawnJob(job domain.ExportJob) {
	jobCtx, cancel := context.WithCancel(m.ctx)
	handle := &jobHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.registerJob(job.ID, handle)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.unregisterJob(job.ID)
			close(handle.done)
		}()

		var err error
		select {
		case <-jobCtx.Done():
			err = jobCtx.Err()
		case m.sem <- struct{}{}:
			err = m.handleJob(jobCtx, &job)
			<-m.sem
		}
		// Interrupted jobs stay resumable on shutdown; an explicit cancel is final.
		if err != nil && m.ctx.Err() == nil {
			m.failJob(jobCtx, job.ID, ErrExportCancelled)
		}
	}()
}

func (m *manager) registerJob(id int64, handle *jobHandle) {
	m.mu.Lock()
	m.active[id] = handle
	m.mu.Unlock()
}

func (m *manager) unregisterJob(id int64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *manager) getJobHandle(id int64) (*jobHandle, bool) {
	m.mu.Lock()
	handle, ok := m.active[id]
	m.mu.Unlock()
	return handle, ok
}

// handleJob runs one export. It returns the context error when the job was
// interrupted before reaching a terminal status, and nil otherwise.
func (m *manager) handleJob(ctx context.Context, job *domain.ExportJob) error {
	logger := m.cfg.Logger.WithFields(logrus.Fields{"job_id": job.ID, "model": job.Model})
	if job.Status == domain.ExportStatusCompleted {
		logger.Debug("job already completed, skipping")
		return nil
	}

	if m.storage == nil || m.cfg.Bucket == "" {
		m.failJob(ctx, job.ID, ErrStorageDisabled)
		return nil
	}

	if err := m.exports.UpdateStatus(ctx, job.ID, domain.ExportStatusRunning, nil); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Errorf("update status failed: %v", err)
		return nil
	}

	reg, err := m.site.Lookup(job.Model)
	if err != nil {
		m.failJob(ctx, job.ID, err)
		return nil
	}
	values, err := url.ParseQuery(job.Query)
	if err != nil {
		m.failJob(ctx, job.ID, fmt.Errorf("parse query: %w", err))
		return nil
	}

	var buf bytes.Buffer
	rows, err := WriteCSV(ctx, &buf, reg, values)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("job cancelled while rendering")
			return ctx.Err()
		}
		m.failJob(ctx, job.ID, fmt.Errorf("render csv: %w", err))
		return nil
	}
	logger.Infof("rendered %d rows (%s)", rows, formatBytes(int64(buf.Len())))

	if err := m.exports.UpdateStatus(ctx, job.ID, domain.ExportStatusUploading, nil); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Errorf("set uploading status: %v", err)
		return nil
	}

	total := int64(buf.Len())
	dest, err := m.storage.UploadObject(ctx, &buf, storage.UploadOptions{
		Bucket:      m.cfg.Bucket,
		Key:         m.objectKey(job.Model),
		ContentType: "text/csv; charset=utf-8",
		ProgressCallback: func(done int64) {
			logger.Debugf("upload progress: %s/%s", formatBytes(done), formatBytes(total))
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("job cancelled while uploading")
			return ctx.Err()
		}
		m.failJob(ctx, job.ID, fmt.Errorf("upload: %w", err))
		return nil
	}

	if err := m.exports.MarkCompleted(context.WithoutCancel(ctx), job.ID, dest, rows); err != nil {
		logger.Errorf("mark completed: %v", err)
		return nil
	}
	logger.Infof("export completed and uploaded to %s", dest)
	return nil
}

func (m *manager) objectKey(model string) string {
	name := fmt.Sprintf("%s/%s.csv", model, uuid.NewString())
	prefix := strings.Trim(m.cfg.KeyPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (m *manager) failJob(ctx context.Context, jobID int64, failErr error) {
	msg := failErr.Error()
	// the job context may already be cancelled; the failure must still land
	if err := m.exports.UpdateStatus(context.WithoutCancel(ctx), jobID, domain.ExportStatusFailed, &msg); err != nil {
		m.cfg.Logger.WithField("job_id", jobID).Errorf("persist failure status: %v", err)
	}
	m.cfg.Logger.WithField("job_id", jobID).Error(msg)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}

var _ Manager = (*manager)(nil)
