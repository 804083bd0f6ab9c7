package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"customer-auth/internal/domain"
	"customer-auth/internal/exporter"
)

const downloadURLTTL = 15 * time.Minute

type ExportResponse struct {
	ID           int64               `json:"id"`
	Model        string              `json:"model"`
	Query        string              `json:"query"`
	Status       domain.ExportStatus `json:"status"`
	RowCount     int                 `json:"row_count"`
	Location     string              `json:"location,omitempty"`
	DownloadURL  string              `json:"download_url,omitempty"`
	SizeBytes    int64               `json:"size_bytes,omitempty"`
	Missing      bool                `json:"missing,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	RequestedBy  string              `json:"requested_by"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at"`
	CompletedAt  *string             `json:"completed_at,omitempty"`
}

func (h *Handler) exportsEnabled() bool {
	return h.exporter != nil && h.storage != nil && h.bucket != ""
}

func (h *Handler) exportChangeList(c *gin.Context) {
	reg, ok := h.registration(c)
	if !ok {
		return
	}
	if !h.exportsEnabled() {
		h.writeError(c, exporter.ErrStorageDisabled)
		return
	}

	query := c.Request.URL.Query()
	if _, err := reg.ParseParams(query); err != nil {
		h.writeError(c, err)
		return
	}

	requestedBy := ""
	if actor := staffUser(c); actor != nil {
		requestedBy = actor.Email
	}
	job, err := h.exports.CreateJob(c.Request.Context(), reg.Model.Name, query.Encode(), requestedBy)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.exporter.Enqueue(c.Request.Context(), job.ID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, exportToResponse(*job))
}

func (h *Handler) listExports(c *gin.Context) {
	jobs, err := h.exports.ListJobs(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]ExportResponse, len(jobs))
	for i := range jobs {
		resp[i] = exportToResponse(jobs[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getExport(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	job, err := h.exports.GetJob(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := exportToResponse(*job)
	if job.Status == domain.ExportStatusCompleted && h.storage != nil && job.Location != "" {
		h.attachDownload(c.Request.Context(), &resp, job)
	}
	c.JSON(http.StatusOK, resp)
}

// attachDownload presigns a completed export when its object is still in the
// bucket, and flags it missing when it is not.
func (h *Handler) attachDownload(ctx context.Context, resp *ExportResponse, job *domain.ExportJob) {
	logger := h.logger.WithField("job_id", job.ID)
	key, err := extractS3Key(job.Location, h.bucket)
	if err != nil {
		logger.Warnf("export location: %v", err)
		return
	}

	objects, err := h.storage.ListObjects(ctx, h.bucket, key)
	if err != nil {
		logger.Warnf("stat export: %v", err)
		return
	}
	found := false
	for _, obj := range objects {
		if obj.Key == key {
			resp.SizeBytes = obj.Size
			found = true
			break
		}
	}
	if !found {
		resp.Missing = true
		return
	}

	url, err := h.storage.GetObjectURL(ctx, h.bucket, key, downloadURLTTL)
	if err != nil {
		logger.Warnf("presign export: %v", err)
		return
	}
	resp.DownloadURL = url
}

func (h *Handler) deleteExport(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	deleteRemote, err := strconv.ParseBool(c.DefaultQuery("delete_remote", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_remote"})
		return
	}

	job, err := h.exports.GetJob(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var warnings []string
	if h.exporter != nil {
		cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		if err := h.exporter.Cancel(cancelCtx, job.ID); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			warnings = append(warnings, fmt.Sprintf("cancel export: %v", err))
		}
	}

	if deleteRemote && job.Location != "" {
		if h.storage == nil || h.bucket == "" {
			h.writeError(c, exporter.ErrStorageDisabled)
			return
		}
		key, err := extractS3Key(job.Location, h.bucket)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		if err := h.storage.DeletePrefix(remoteCtx, h.bucket, key); err != nil {
			warnings = append(warnings, fmt.Sprintf("delete remote export: %v", err))
		}
	}

	if err := h.exports.DeleteJob(c.Request.Context(), job.ID); err != nil {
		h.writeError(c, err)
		return
	}

	resp := gin.H{"deleted": job.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

func exportToResponse(job domain.ExportJob) ExportResponse {
	resp := ExportResponse{
		ID:           job.ID,
		Model:        job.Model,
		Query:        job.Query,
		Status:       job.Status,
		RowCount:     job.RowCount,
		Location:     job.Location,
		ErrorMessage: job.ErrorMessage,
		RequestedBy:  job.RequestedBy,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		v := job.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	return resp
}

func extractS3Key(location, bucket string) (string, error) {
	if !strings.HasPrefix(location, "s3://") {
		return "", fmt.Errorf("invalid s3 location")
	}
	rest := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", fmt.Errorf("invalid s3 location")
	}
	if bucket != "" && parts[0] != bucket {
		return "", fmt.Errorf("s3 bucket mismatch")
	}
	if len(parts) == 1 || strings.TrimPrefix(parts[1], "/") == "" {
		return "", fmt.Errorf("s3 key missing")
	}
	return strings.TrimPrefix(parts[1], "/"), nil
}
