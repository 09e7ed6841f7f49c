package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejo-valencia/onefinance/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrMessageNotFound = errors.New("message not found")

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Upsert inserts a captured message or merges its metadata if it already
// exists. The merge never touches processed/processing, so resubmitting an
// already-processed message can never make it reprocessable. Returns whether
// a new row was created.
func (r *MessageRepository) Upsert(ctx context.Context, msg models.Message) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", msg.ID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}

	if count > 0 {
		result := r.db.WithContext(ctx).Model(&models.Message{}).
			Where("id = ?", msg.ID).
			Updates(map[string]interface{}{
				"subject":       msg.Subject,
				"sender":        msg.Sender,
				"provider_date": msg.ProviderDate,
				"body_text":     msg.BodyText,
				"received_at":   msg.ReceivedAt,
				"updated_at":    time.Now(),
			})
		if result.Error != nil {
			return false, fmt.Errorf("failed to merge message: %w", result.Error)
		}
		return false, nil
	}

	msg.Events = append(msg.Events, models.NewEvent("captured", ""))
	// Guard against a concurrent capture of the same message ID.
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&msg)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create message: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// GetByID retrieves a message by its provider message ID.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	result := r.db.WithContext(ctx).First(&msg, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}
	return &msg, nil
}

// GetUnprocessed retrieves up to limit messages with processed = false,
// oldest first.
func (r *MessageRepository) GetUnprocessed(ctx context.Context, limit int) ([]models.Message, error) {
	var msgs []models.Message
	result := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("received_at ASC").
		Limit(limit).
		Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query unprocessed messages: %w", result.Error)
	}
	return msgs, nil
}

// CountUnprocessed returns the live count of messages with processed = false.
func (r *MessageRepository) CountUnprocessed(ctx context.Context) (int, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("processed = ?", false).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count unprocessed messages: %w", result.Error)
	}
	return int(count), nil
}

// TryClaim attempts to take the exclusive claim on a message as a single
// atomic read-modify-write. It succeeds only when the message is unprocessed
// and either unclaimed or holding a claim older than lockTimeout. This is the
// only thing preventing duplicate transactions when two runs overlap.
func (r *MessageRepository) TryClaim(ctx context.Context, id string, now time.Time, lockTimeout time.Duration) (bool, error) {
	staleBefore := now.Add(-lockTimeout)

	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND processed = ? AND (processing = ? OR processing_started_at IS NULL OR processing_started_at <= ?)",
			id, false, false, staleBefore).
		Updates(map[string]interface{}{
			"processing":            true,
			"processing_started_at": now,
			"events":                appendEvent("claimed", ""),
			"updated_at":            now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim message: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseClaim clears the claim after a per-message failure so the message
// becomes reclaimable immediately.
func (r *MessageRepository) ReleaseClaim(ctx context.Context, id string, reason string) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing":            false,
			"processing_started_at": nil,
			"events":                appendEvent("released", reason),
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to release claim: %w", result.Error)
	}
	return nil
}

// MarkProcessed atomically flips a message to processed and drops the claim.
// Called only after the transaction record was written, never before.
func (r *MessageRepository) MarkProcessed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":             true,
			"processing":            false,
			"processing_started_at": nil,
			"events":                appendEvent("processed", ""),
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark message processed: %w", result.Error)
	}
	return nil
}

// appendEvent builds a jsonb concatenation expression appending one event to
// a record's append-only event log.
func appendEvent(eventType, note string) interface{} {
	entry, err := json.Marshal(models.EventLog{models.NewEvent(eventType, note)})
	if err != nil {
		// Event marshalling cannot realistically fail; fall back to no-op.
		return gorm.Expr("events")
	}
	return gorm.Expr("events || ?::jsonb", string(entry))
}
