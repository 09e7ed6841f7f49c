package models

import "time"

// Processing job status constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// ProcessingJob tracks one batch processing run. Status progresses
// pending -> running -> completed|failed and never moves backwards; a run
// stopped early by the time budget still completes, with Remaining reporting
// the work left for the next run.
type ProcessingJob struct {
	ID             string     `gorm:"column:id;primaryKey"`
	Status         string     `gorm:"column:status;index"`
	BatchLimit     int        `gorm:"column:batch_limit"`
	Processed      int        `gorm:"column:processed"`
	Total          int        `gorm:"column:total"`
	Remaining      int        `gorm:"column:remaining"`
	CurrentMessage *string    `gorm:"column:current_message"` // message ID being processed right now
	LastError      *string    `gorm:"column:last_error"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (ProcessingJob) TableName() string {
	return "processing_job"
}

// Terminal reports whether the job reached a final state.
func (j *ProcessingJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
