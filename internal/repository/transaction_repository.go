package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alejo-valencia/onefinance/internal/models"
	"gorm.io/gorm"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// markCheckedChunkSize bounds how many rows a single mark-checked statement
// touches, so a large backlog flushes in pieces instead of one huge write.
const markCheckedChunkSize = 200

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create writes a new transaction record.
func (r *TransactionRepository) Create(ctx context.Context, tx models.Transaction) error {
	tx.Events = append(tx.Events, models.NewEvent("created", ""))
	if err := r.db.WithContext(ctx).Create(&tx).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	result := r.db.WithContext(ctx).First(&tx, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", result.Error)
	}
	return &tx, nil
}

// ListTrackable retrieves trackable transactions, newest first.
func (r *TransactionRepository) ListTrackable(ctx context.Context, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	result := r.db.WithContext(ctx).
		Where("should_track = ?", true).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&txs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", result.Error)
	}
	return txs, nil
}

// ListUncheckedTrackable retrieves the internal-movement backlog: trackable
// transactions not yet submitted to the pairing pass.
func (r *TransactionRepository) ListUncheckedTrackable(ctx context.Context) ([]models.Transaction, error) {
	var txs []models.Transaction
	result := r.db.WithContext(ctx).
		Where("should_track = ? AND internal_movement_checked = ?", true, false).
		Order("created_at ASC").
		Find(&txs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query unchecked transactions: %w", result.Error)
	}
	return txs, nil
}

// MarkMovementChecked flags every listed transaction as checked in one pass,
// setting internal_movement true iff the ID is in matched. Writes are flushed
// in chunks so a large backlog never produces one oversized statement.
func (r *TransactionRepository) MarkMovementChecked(ctx context.Context, ids []string, matched map[string]bool) error {
	for start := 0; start < len(ids); start += markCheckedChunkSize {
		end := start + markCheckedChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := r.markChunk(ctx, ids[start:end], matched); err != nil {
			return err
		}
	}
	return nil
}

func (r *TransactionRepository) markChunk(ctx context.Context, ids []string, matched map[string]bool) error {
	var matchedIDs, unmatchedIDs []string
	for _, id := range ids {
		if matched[id] {
			matchedIDs = append(matchedIDs, id)
		} else {
			unmatchedIDs = append(unmatchedIDs, id)
		}
	}

	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(matchedIDs) > 0 {
			result := tx.Model(&models.Transaction{}).
				Where("id IN ?", matchedIDs).
				Updates(map[string]interface{}{
					"internal_movement":         true,
					"internal_movement_checked": true,
					"events":                    appendEvent("movement_checked", "flagged internal"),
					"updated_at":                now,
				})
			if result.Error != nil {
				return fmt.Errorf("failed to flag internal movements: %w", result.Error)
			}
		}
		if len(unmatchedIDs) > 0 {
			result := tx.Model(&models.Transaction{}).
				Where("id IN ?", unmatchedIDs).
				Updates(map[string]interface{}{
					"internal_movement":         false,
					"internal_movement_checked": true,
					"events":                    appendEvent("movement_checked", ""),
					"updated_at":                now,
				})
			if result.Error != nil {
				return fmt.Errorf("failed to mark transactions checked: %w", result.Error)
			}
		}
		return nil
	})
}
