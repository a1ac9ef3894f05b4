package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExchangeStatus is the lifecycle state of a skill trade
type ExchangeStatus string

const (
	ExchangePending   ExchangeStatus = "pending"
	ExchangeActive    ExchangeStatus = "active"
	ExchangeCompleted ExchangeStatus = "completed"
	ExchangeDeclined  ExchangeStatus = "declined"
)

// Exchange is the two-party conversation chat and calls happen under.
// Only the counters are written by the realtime layer.
type Exchange struct {
	ID             string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserAID        string         `gorm:"index;type:varchar(36)" json:"userA"`
	UserBID        string         `gorm:"index;type:varchar(36)" json:"userB"`
	Status         ExchangeStatus `gorm:"type:varchar(16);default:pending" json:"status"`
	MessagesCount  int            `gorm:"default:0" json:"messagesCount"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// BeforeCreate assigns an id
func (e *Exchange) BeforeCreate(tx *gorm.DB) error {
	e.EnsureID()
	return nil
}

// EnsureID assigns a uuid when the record has none yet
func (e *Exchange) EnsureID() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = ExchangePending
	}
}

// Parties returns the two participants in registration order
func (e *Exchange) Parties() [2]string {
	return [2]string{e.UserAID, e.UserBID}
}

// HasParty reports whether userID is one of the participants
func (e *Exchange) HasParty(userID string) bool {
	for _, p := range e.Parties() {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParty returns the participant that is not userID
func (e *Exchange) OtherParty(userID string) (string, bool) {
	if !e.HasParty(userID) {
		return "", false
	}
	for _, p := range e.Parties() {
		if p != userID {
			return p, true
		}
	}
	// self-exchange; both slots hold the same id
	return userID, true
}

// IsActive reports whether chat and calls are allowed
func (e *Exchange) IsActive() bool {
	return e.Status == ExchangeActive
}
