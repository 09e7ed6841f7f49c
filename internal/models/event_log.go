package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Event is a single entry in a record's append-only event log.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// EventLog type for GORM to handle PostgreSQL JSONB event columns
type EventLog []Event

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType, note string) Event {
	return Event{Type: eventType, At: time.Now().UTC(), Note: note}
}

// Value implements driver.Valuer for EventLog
func (e EventLog) Value() (driver.Value, error) {
	if e == nil {
		return json.Marshal(EventLog{})
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner for EventLog
func (e *EventLog) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, e)
}
