package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CallStatus is the state of a call session
type CallStatus string

const (
	CallInitiated  CallStatus = "initiated"
	CallInProgress CallStatus = "in_progress"
	CallEnded      CallStatus = "ended"
	CallFailed     CallStatus = "failed"
)

// Terminal reports whether no further transition is allowed
func (s CallStatus) Terminal() bool {
	return s == CallEnded || s == CallFailed
}

// Active reports whether the session still occupies its parties
func (s CallStatus) Active() bool {
	return s == CallInitiated || s == CallInProgress
}

// CallSession is the persisted record of one call attempt
type CallSession struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExchangeID  string     `gorm:"index;type:varchar(36)" json:"exchangeId"`
	CallerID    string     `gorm:"index;type:varchar(36)" json:"callerId"`
	CalleeID    string     `gorm:"index;type:varchar(36)" json:"calleeId"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt"`
	DurationSec int64      `gorm:"default:0" json:"durationSec"`
	Status      CallStatus `gorm:"type:varchar(16);index;default:initiated" json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// BeforeCreate assigns an id
func (c *CallSession) BeforeCreate(tx *gorm.DB) error {
	c.EnsureID()
	return nil
}

// EnsureID assigns a uuid when the record has none yet
func (c *CallSession) EnsureID() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CallInitiated
	}
}

// HasParty reports whether userID is the caller or the callee
func (c *CallSession) HasParty(userID string) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// OtherParty returns the peer of userID on this call
func (c *CallSession) OtherParty(userID string) string {
	if userID == c.CallerID {
		return c.CalleeID
	}
	return c.CallerID
}

// DurationUntil is the whole seconds elapsed between StartedAt and t, never negative
func (c *CallSession) DurationUntil(t time.Time) int64 {
	d := t.Sub(c.StartedAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// CallUpdate is the set of columns written by a status transition
type CallUpdate struct {
	Status      CallStatus
	EndedAt     *time.Time
	DurationSec *int64
}
