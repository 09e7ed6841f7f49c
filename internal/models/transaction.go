package models

import "time"

// Transaction type constants
const (
	TransactionTypeIncome  = "income"
	TransactionTypeExpense = "expense"
)

// Transaction represents a structured financial transaction extracted from a
// single captured message. One message yields at most one transaction; the
// should_track result is persisted even when false so callers decide whether
// to surface it.
type Transaction struct {
	ID          string  `gorm:"column:id;primaryKey"`
	MessageID   string  `gorm:"column:message_id;uniqueIndex"`
	ShouldTrack bool    `gorm:"column:should_track;index"`
	Type        string  `gorm:"column:type"` // income or expense
	Amount      float64 `gorm:"column:amount"`
	Currency    string  `gorm:"column:currency"`
	Description *string `gorm:"column:description"`
	Date        *string `gorm:"column:date"`   // date as stated in the notification
	Method      *string `gorm:"column:method"` // card, transfer, cash withdrawal, etc.

	Category    *string `gorm:"column:category"`
	Subcategory *string `gorm:"column:subcategory"`
	Confidence  float64 `gorm:"column:confidence"`

	// OccurredAt is the extracted transaction datetime in ISO 8601 with a
	// fixed -05:00 offset.
	OccurredAt string `gorm:"column:occurred_at"`

	// InternalMovement is only meaningful once InternalMovementChecked is
	// true; an unchecked transaction must be treated as "not yet known".
	InternalMovement        bool `gorm:"column:internal_movement"`
	InternalMovementChecked bool `gorm:"column:internal_movement_checked;index"`

	Events    EventLog  `gorm:"column:events;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Transaction) TableName() string {
	return "transaction"
}

// Direction returns "outgoing" for expenses and "incoming" for income, the
// vocabulary the transfer-pairing facade expects.
func (t *Transaction) Direction() string {
	if t.Type == TransactionTypeIncome {
		return "incoming"
	}
	return "outgoing"
}
