// internal/models/outbox.go
package models

import (
	"time"
)

// OutboxEvent is written in the same transaction as the state change it
// announces. (topic, key) is unique so a side effect is recorded once.
type OutboxEvent struct {
	ID        int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Topic     string     `json:"topic" gorm:"size:100;not null;uniqueIndex:idx_outbox_topic_key"`
	Key       string     `json:"key" gorm:"size:100;not null;uniqueIndex:idx_outbox_topic_key"`
	Payload   JSONB      `json:"payload" gorm:"type:jsonb"`
	Attempts  int        `json:"attempts" gorm:"not null;default:0"`
	LastError string     `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at" gorm:"index"`

	// LeaseUntil is set while a relay is publishing the row. An expired
	// lease makes the row eligible again.
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
}
