package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageKind distinguishes user text from system notices
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageSystem MessageKind = "system"
)

// MaxMessageBody is the storage bound for a message body, in characters
const MaxMessageBody = 1000

// Message is a chat line inside an exchange
type Message struct {
	ID         string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExchangeID string      `gorm:"index:idx_messages_exchange_created;type:varchar(36)" json:"exchangeId"`
	FromUserID string      `gorm:"type:varchar(36)" json:"-"`
	ToUserID   string      `gorm:"type:varchar(36)" json:"-"`
	Body       string      `gorm:"type:varchar(1000)" json:"body"`
	Kind       MessageKind `gorm:"type:varchar(16);default:text" json:"type"`
	ReadAt     *time.Time  `json:"readAt"`
	CreatedAt  time.Time   `gorm:"index:idx_messages_exchange_created" json:"createdAt"`
	UpdatedAt  time.Time   `json:"-"`
}

// MessageView is the fully populated record pushed as message:new and served by history
type MessageView struct {
	ID         string      `json:"id"`
	ExchangeID string      `json:"exchangeId"`
	FromUser   UserSummary `json:"fromUser"`
	ToUser     string      `json:"toUser"`
	Body       string      `json:"body"`
	Type       MessageKind `json:"type"`
	CreatedAt  time.Time   `json:"createdAt"`
	ReadAt     *time.Time  `json:"readAt"`
}

// BeforeCreate assigns an id and default kind
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	m.EnsureID()
	return nil
}

// EnsureID assigns a uuid when the record has none yet
func (m *Message) EnsureID() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Kind == "" {
		m.Kind = MessageText
	}
}

// View renders the message with the sender's display identity
func (m *Message) View(from UserSummary) MessageView {
	return MessageView{
		ID:         m.ID,
		ExchangeID: m.ExchangeID,
		FromUser:   from,
		ToUser:     m.ToUserID,
		Body:       m.Body,
		Type:       m.Kind,
		CreatedAt:  m.CreatedAt,
		ReadAt:     m.ReadAt,
	}
}
