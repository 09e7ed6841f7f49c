package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alejo-valencia/onefinance/internal/models"
	"gorm.io/gorm"
)

// ErrSyncInProgress is returned when the single-flight guard refuses a
// trigger because a sync is already fetching or processing.
var ErrSyncInProgress = errors.New("a sync is already in progress")

type SyncStatusRepository struct {
	db *gorm.DB
}

func NewSyncStatusRepository(db *gorm.DB) *SyncStatusRepository {
	return &SyncStatusRepository{db: db}
}

// Get reads the singleton sync status record.
func (r *SyncStatusRepository) Get(ctx context.Context) (*models.SyncStatus, error) {
	var status models.SyncStatus
	result := r.db.WithContext(ctx).First(&status, "id = ?", models.SyncStatusID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			// The migration seeds the row; treat absence as idle.
			return &models.SyncStatus{ID: models.SyncStatusID, Status: models.SyncStatusIdle}, nil
		}
		return nil, fmt.Errorf("failed to get sync status: %w", result.Error)
	}
	return &status, nil
}

// TryStart atomically takes the single-flight slot, resetting counters for a
// new run. Returns ErrSyncInProgress when a sync is already active.
func (r *SyncStatusRepository) TryStart(ctx context.Context, lookbackHours int) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncStatus{}).
		Where("id = ? AND status NOT IN ?", models.SyncStatusID,
			[]string{models.SyncStatusFetching, models.SyncStatusProcessing}).
		Updates(map[string]interface{}{
			"status":         models.SyncStatusFetching,
			"lookback_hours": lookbackHours,
			"fetched":        0,
			"new":            0,
			"existing":       0,
			"queued":         0,
			"processed":      0,
			"remaining":      0,
			"last_error":     nil,
			"triggered_at":   now,
			"completed_at":   nil,
			"updated_at":     now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to start sync: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSyncInProgress
	}
	return nil
}

// SetProcessing records fetch results and moves the run into the processing
// phase, where completion is inferred from the live unprocessed count.
func (r *SyncStatusRepository) SetProcessing(ctx context.Context, fetched, newCount, existing, queued, remaining int) error {
	result := r.db.WithContext(ctx).Model(&models.SyncStatus{}).
		Where("id = ? AND status = ?", models.SyncStatusID, models.SyncStatusFetching).
		Updates(map[string]interface{}{
			"status":     models.SyncStatusProcessing,
			"fetched":    fetched,
			"new":        newCount,
			"existing":   existing,
			"queued":     queued,
			"remaining":  remaining,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update sync status: %w", result.Error)
	}
	return nil
}

// CompleteIfProcessing finishes a drained run. The caller verifies the live
// remaining count first; the status guard keeps a stale caller harmless.
func (r *SyncStatusRepository) CompleteIfProcessing(ctx context.Context, processed int) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncStatus{}).
		Where("id = ? AND status = ?", models.SyncStatusID, models.SyncStatusProcessing).
		Updates(map[string]interface{}{
			"status":          models.SyncStatusCompleted,
			"processed":       processed,
			"remaining":       0,
			"completed_at":    now,
			"last_success_at": now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete sync: %w", result.Error)
	}
	return nil
}

// SetFailed records a sync failure with its error text.
func (r *SyncStatusRepository) SetFailed(ctx context.Context, errText string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncStatus{}).
		Where("id = ?", models.SyncStatusID).
		Updates(map[string]interface{}{
			"status":       models.SyncStatusFailed,
			"last_error":   errText,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark sync failed: %w", result.Error)
	}
	return nil
}

// LastSuccessAt returns the completion time of the last successful sync, or
// nil when none exists.
func (r *SyncStatusRepository) LastSuccessAt(ctx context.Context) (*time.Time, error) {
	status, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	return status.LastSuccessAt, nil
}
