package domain

import "time"

type ExportStatus string

const (
	ExportStatusPending   ExportStatus = "pending"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusUploading ExportStatus = "uploading"
	ExportStatusCompleted ExportStatus = "completed"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportJob tracks an asynchronous changelist export to object storage.
type ExportJob struct {
	ID           int64
	Model        string
	Query        string
	Status       ExportStatus
	RowCount     int
	Location     string
	ErrorMessage string
	RequestedBy  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}
