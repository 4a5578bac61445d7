package model

import (
	"fmt"
	"time"
)

// AccountStatus drives the user's onboarding lifecycle.
type AccountStatus string

const (
	StatusPendingEmailVerification AccountStatus = "PENDING_EMAIL_VERIFICATION"
	StatusEmailVerified            AccountStatus = "EMAIL_VERIFIED"
	StatusAccountProvisioning      AccountStatus = "ACCOUNT_PROVISIONING"
	StatusAccountReady             AccountStatus = "ACCOUNT_READY"
	StatusActive                   AccountStatus = "ACTIVE"
	StatusSuspended                AccountStatus = "SUSPENDED"
)

var allowedTransitions = map[AccountStatus][]AccountStatus{
	StatusPendingEmailVerification: {StatusEmailVerified},
	StatusEmailVerified:            {StatusAccountProvisioning},
	StatusAccountProvisioning:      {StatusAccountReady},
	StatusAccountReady:             {StatusActive},
	StatusActive:                   {StatusSuspended},
	StatusSuspended:                {StatusActive},
}

// ErrInvalidTransition is returned for any (from, to) pair outside the allow-list.
type ErrInvalidTransition struct {
	From AccountStatus
	To   AccountStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid account status transition %s -> %s", e.From, e.To)
}

// AssertValidTransition fails unless to is an allowed successor of from.
func AssertValidTransition(from, to AccountStatus) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &ErrInvalidTransition{From: from, To: to}
}

type User struct {
	ID            string        `gorm:"primaryKey;size:64" json:"id"`
	Email         string        `gorm:"size:255;not null;uniqueIndex" json:"email"`
	AccountStatus AccountStatus `gorm:"size:32;not null" json:"accountStatus"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string { return "users" }
