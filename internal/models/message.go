package models

import "time"

// Message represents a captured bank notification email, keyed by the Gmail
// message ID. The processed/processing pair implements the claim protocol:
// processing=true means a worker holds (or recently held) an exclusive claim,
// and processed=true means a transaction record was already written for it.
type Message struct {
	ID                  string     `gorm:"column:id;primaryKey"` // Gmail message ID
	Subject             string     `gorm:"column:subject"`
	Sender              string     `gorm:"column:sender"`
	ProviderDate        string     `gorm:"column:provider_date"` // raw Date header as sent by the provider
	BodyText            string     `gorm:"column:body_text"`
	ReceivedAt          time.Time  `gorm:"column:received_at"`
	Processed           bool       `gorm:"column:processed;index"`
	Processing          bool       `gorm:"column:processing"`
	ProcessingStartedAt *time.Time `gorm:"column:processing_started_at"`
	Events              EventLog   `gorm:"column:events;type:jsonb"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "message"
}

// ClaimStale reports whether a held claim is older than the lock timeout and
// may therefore be taken over by another run.
func (m *Message) ClaimStale(now time.Time, lockTimeout time.Duration) bool {
	if !m.Processing {
		return false
	}
	if m.ProcessingStartedAt == nil {
		return true
	}
	return now.Sub(*m.ProcessingStartedAt) >= lockTimeout
}
