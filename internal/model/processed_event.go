package model

import "time"

// ProcessedEvent is the consumer-side idempotency record. The primary key
// insert is the gate: a second insert of the same EventID is a no-op.
type ProcessedEvent struct {
	EventID     string    `gorm:"primaryKey;size:64"`
	Topic       string    `gorm:"size:128;not null"`
	ProcessedAt time.Time `gorm:"not null;index"`
}

func (ProcessedEvent) TableName() string { return "processed_event" }
