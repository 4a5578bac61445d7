package model

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxStatus is the relay lifecycle of an outbox row.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxProcessed  OutboxStatus = "PROCESSED"
	OutboxFailed     OutboxStatus = "FAILED"
)

// EventContext is the request metadata captured when the event was produced.
type EventContext struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Device    string `json:"device,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type OutboxEvent struct {
	ID            uint64                           `gorm:"primaryKey"`
	EventID       string                           `gorm:"size:64;not null;uniqueIndex"`
	Topic         string                           `gorm:"size:128;not null"`
	EventType     string                           `gorm:"size:64;not null"`
	AggregateType string                           `gorm:"size:64;not null"`
	AggregateID   string                           `gorm:"size:64;not null"`
	Action        string                           `gorm:"size:64"`
	Status        OutboxStatus                     `gorm:"size:16;not null;default:PENDING;index:idx_outbox_claim,priority:1"`
	Payload       datatypes.JSON                   `gorm:"not null"`
	Version       int                              `gorm:"not null;default:1"`
	Context       datatypes.JSONType[EventContext] `gorm:"not null"`
	RetryCount    int                              `gorm:"not null;default:0"`
	LastError     string                           `gorm:"size:1024"`
	LockedAt      *time.Time
	SentAt        *time.Time
	OccurredAt    time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_outbox_claim,priority:2"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (OutboxEvent) TableName() string { return "event_outbox" }
