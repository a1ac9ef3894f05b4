package service

import (
	"talenttrade/backend/internal/models"
	apperrors "talenttrade/backend/pkg/errors"
)

// TypingRequest is the typing:start and typing:stop payload
type TypingRequest struct {
	ExchangeID string `json:"exchangeId" validate:"required"`
}

// TypingIndicator is broadcast to the other members of the exchange room
type TypingIndicator struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// TypingRelay rebroadcasts typing state. Room membership already gated access,
// so nothing is looked up or stored.
type TypingRelay struct {
	emitter Emitter
}

func NewTypingRelay(emitter Emitter) *TypingRelay {
	return &TypingRelay{emitter: emitter}
}

func (t *TypingRelay) Start(user *models.User, connID string, req TypingRequest) error {
	return t.relay(user, connID, req, "typing:user_typing")
}

func (t *TypingRelay) Stop(user *models.User, connID string, req TypingRequest) error {
	return t.relay(user, connID, req, "typing:user_stopped")
}

func (t *TypingRelay) relay(user *models.User, connID string, req TypingRequest, event string) error {
	if err := validateStruct(req); err != nil {
		return apperrors.Validation("exchangeId is required")
	}
	t.emitter.EmitToRoom(ExchangeRoom(req.ExchangeID), event, TypingIndicator{
		UserID: user.ID,
		Name:   user.Name,
	}, connID)
	return nil
}
