package repository

import (
	"context"
	"errors"
	"time"

	"talenttrade/backend/internal/models"
)

// ErrNotFound is returned when the requested record does not exist
var ErrNotFound = errors.New("record not found")

// UserRepository reads identity records
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// ExchangeRepository reads exchanges and maintains their chat counters
type ExchangeRepository interface {
	GetByID(ctx context.Context, id string) (*models.Exchange, error)
	Create(ctx context.Context, exchange *models.Exchange) error
	// RecordMessage bumps the message counter and last activity in one statement
	RecordMessage(ctx context.Context, id string, at time.Time) error
}

// MessageRepository persists chat messages
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	// ListByExchange returns a page of messages, newest first
	ListByExchange(ctx context.Context, exchangeID string, limit, offset int) ([]models.Message, error)
}

// CallRepository persists call sessions
type CallRepository interface {
	Create(ctx context.Context, call *models.CallSession) error
	GetByID(ctx context.Context, id string) (*models.CallSession, error)
	// Transition applies update only while the stored status is one of from.
	// An empty from applies unconditionally. The bool reports whether a row changed.
	Transition(ctx context.Context, id string, from []models.CallStatus, update models.CallUpdate) (bool, error)
	// ListActiveByParty returns initiated and in-progress sessions involving userID
	ListActiveByParty(ctx context.Context, userID string) ([]models.CallSession, error)
}

// Store bundles the repositories backing the realtime layer
type Store struct {
	Users     UserRepository
	Exchanges ExchangeRepository
	Messages  MessageRepository
	Calls     CallRepository
}
