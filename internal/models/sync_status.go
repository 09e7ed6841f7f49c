package models

import "time"

// Sync status constants
const (
	SyncStatusIdle       = "idle"
	SyncStatusFetching   = "fetching"
	SyncStatusProcessing = "processing"
	SyncStatusCompleted  = "completed"
	SyncStatusFailed     = "failed"
)

// SyncStatusID is the primary key of the singleton sync status row.
const SyncStatusID = "current"

// SyncStatus is a singleton record describing the last/current mailbox sync.
// "processing" is inferred complete once the live count of unprocessed
// messages reaches zero.
type SyncStatus struct {
	ID            string     `gorm:"column:id;primaryKey"`
	Status        string     `gorm:"column:status"`
	LookbackHours int        `gorm:"column:lookback_hours"`
	Fetched       int        `gorm:"column:fetched"`
	New           int        `gorm:"column:new"`
	Existing      int        `gorm:"column:existing"`
	Queued        int        `gorm:"column:queued"`
	Processed     int        `gorm:"column:processed"`
	Remaining     int        `gorm:"column:remaining"`
	LastError     *string    `gorm:"column:last_error"`
	TriggeredAt   *time.Time `gorm:"column:triggered_at"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
	// LastSuccessAt survives run resets; it anchors the adaptive lookback
	// window of the next sync.
	LastSuccessAt *time.Time `gorm:"column:last_success_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (SyncStatus) TableName() string {
	return "sync_status"
}

// Active reports whether a sync run currently holds the single-flight slot.
func (s *SyncStatus) Active() bool {
	return s.Status == SyncStatusFetching || s.Status == SyncStatusProcessing
}
