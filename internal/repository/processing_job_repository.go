package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alejo-valencia/onefinance/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("processing job not found")

type ProcessingJobRepository struct {
	db *gorm.DB
}

func NewProcessingJobRepository(db *gorm.DB) *ProcessingJobRepository {
	return &ProcessingJobRepository{db: db}
}

// Create inserts a new pending job, so a client polling right after the
// trigger already sees a valid record.
func (r *ProcessingJobRepository) Create(ctx context.Context, batchLimit int) (*models.ProcessingJob, error) {
	job := models.ProcessingJob{
		ID:         uuid.New().String(),
		Status:     models.JobStatusPending,
		BatchLimit: batchLimit,
		CreatedAt:  time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, fmt.Errorf("failed to create processing job: %w", err)
	}
	return &job, nil
}

// GetByID retrieves a job by ID.
func (r *ProcessingJobRepository) GetByID(ctx context.Context, id string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	result := r.db.WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get processing job: %w", result.Error)
	}
	return &job, nil
}

// GetLatest resolves the most recent pending or running job, falling back to
// the most recent job of any status.
func (r *ProcessingJobRepository) GetLatest(ctx context.Context) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	result := r.db.WithContext(ctx).
		Where("status IN ?", []string{models.JobStatusPending, models.JobStatusRunning}).
		Order("created_at DESC").
		First(&job)
	if result.Error == nil {
		return &job, nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get latest active job: %w", result.Error)
	}

	result = r.db.WithContext(ctx).Order("created_at DESC").First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get latest job: %w", result.Error)
	}
	return &job, nil
}

// HasActive reports whether any job created within maxAge is still pending or
// running. Older jobs are orphans from a crashed run; unlike message claims
// they have no release path, so the age bound keeps them from gating
// scheduled runs forever.
func (r *ProcessingJobRepository) HasActive(ctx context.Context, maxAge time.Duration) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("status IN ? AND created_at > ?",
			[]string{models.JobStatusPending, models.JobStatusRunning},
			time.Now().Add(-maxAge)).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to count active jobs: %w", result.Error)
	}
	return count > 0, nil
}

// MarkRunning transitions pending -> running and records the batch total.
// The status guard keeps the progression monotonic.
func (r *ProcessingJobRepository) MarkRunning(ctx context.Context, id string, total int) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"total":      total,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job running: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job %s is not pending", id)
	}
	return nil
}

// UpdateProgress records live progress so a concurrent status poll sees the
// batch advancing, not just the final state.
func (r *ProcessingJobRepository) UpdateProgress(ctx context.Context, id string, processed int, currentMessage *string) error {
	result := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"processed":       processed,
			"current_message": currentMessage,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update job progress: %w", result.Error)
	}
	return nil
}

// Complete finishes a run. Budget-stopped runs complete too; remaining > 0
// signals the work left for the next run.
func (r *ProcessingJobRepository) Complete(ctx context.Context, id string, processed, remaining int) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":          models.JobStatusCompleted,
			"processed":       processed,
			"remaining":       remaining,
			"current_message": nil,
			"completed_at":    now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete job: %w", result.Error)
	}
	return nil
}

// Fail records a run-level failure with its error text. Terminal jobs are
// never overwritten.
func (r *ProcessingJobRepository) Fail(ctx context.Context, id string, errText string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.ProcessingJob{}).
		Where("id = ? AND status IN ?", id, []string{models.JobStatusPending, models.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":          models.JobStatusFailed,
			"last_error":      errText,
			"current_message": nil,
			"completed_at":    now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job failed: %w", result.Error)
	}
	return nil
}
