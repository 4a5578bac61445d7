package model

import (
	"time"

	"gorm.io/datatypes"
)

// DeadLetter is the operator-queryable copy of a message that failed permanently.
type DeadLetter struct {
	ID              uint64         `gorm:"primaryKey" json:"id"`
	EventID         string         `gorm:"size:64;index" json:"eventId,omitempty"`
	OriginalTopic   string         `gorm:"size:128;not null" json:"originalTopic"`
	OriginalMessage datatypes.JSON `gorm:"not null" json:"originalMessage"`
	Error           string         `gorm:"size:2048;not null" json:"error"`
	FailedAt        time.Time      `gorm:"not null;index" json:"failedAt"`
}

func (DeadLetter) TableName() string { return "dead_letter" }
