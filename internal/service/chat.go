package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/repository"
	apperrors "talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/events"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/metrics"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

// ChatConfig bounds message bodies and notification previews, in characters
type ChatConfig struct {
	MaxBodyLength int
	PreviewLength int
}

// SendMessageRequest is the message:send payload
type SendMessageRequest struct {
	ExchangeID string `json:"exchangeId" validate:"required"`
	Body       string `json:"body"`
}

// MessageNotification is pushed to the recipient's personal room
type MessageNotification struct {
	Type       string `json:"type"`
	ExchangeID string `json:"exchangeId"`
	FromUser   string `json:"fromUser"`
	Preview    string `json:"preview"`
}

// MessageCreatedEvent is published after a message is relayed
type MessageCreatedEvent struct {
	MessageID  string    `json:"messageId"`
	ExchangeID string    `json:"exchangeId"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChatService relays chat messages inside exchanges
type ChatService struct {
	exchanges repository.ExchangeRepository
	messages  repository.MessageRepository
	users     Users
	emitter   Emitter
	publisher events.Publisher
	cfg       ChatConfig
	now       func() time.Time
	log       *logger.Logger
}

// NewChatService creates a chat relay
func NewChatService(
	exchanges repository.ExchangeRepository,
	messages repository.MessageRepository,
	users Users,
	emitter Emitter,
	publisher events.Publisher,
	cfg ChatConfig,
	log *logger.Logger,
) *ChatService {
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = models.MaxMessageBody
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = 50
	}
	return &ChatService{
		exchanges: exchanges,
		messages:  messages,
		users:     users,
		emitter:   emitter,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		log:       log,
	}
}

// Authorize loads an exchange and checks userID is one of its parties
func (s *ChatService) Authorize(ctx context.Context, userID, exchangeID string) (*models.Exchange, error) {
	if exchangeID == "" {
		return nil, apperrors.Validation("exchangeId is required")
	}
	exchange, err := s.exchanges.GetByID(ctx, exchangeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("Exchange not found")
		}
		return nil, apperrors.Persistence("Failed to load exchange", err)
	}
	if !exchange.HasParty(userID) {
		return nil, apperrors.AccessDenied("Access denied")
	}
	return exchange, nil
}

// SendMessage validates, persists and fans out one chat message.
// Nothing is broadcast unless both the message and the exchange counters were written.
func (s *ChatService) SendMessage(ctx context.Context, sender *models.User, req SendMessageRequest) (*models.MessageView, error) {
	ctx, span := tracer.Start(ctx, "chat.send_message")
	defer span.End()
	span.SetAttributes(attribute.String("exchange.id", req.ExchangeID))

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, apperrors.Validation("Message body is required")
	}
	if utf8.RuneCountInString(req.Body) > s.cfg.MaxBodyLength {
		return nil, apperrors.Validation("Message body is too long")
	}

	exchange, err := s.Authorize(ctx, sender.ID, req.ExchangeID)
	if err != nil {
		return nil, err
	}
	if !exchange.IsActive() {
		return nil, apperrors.StateConflict("Exchange is not active")
	}

	recipient, _ := exchange.OtherParty(sender.ID)
	message := &models.Message{
		ExchangeID: exchange.ID,
		FromUserID: sender.ID,
		ToUserID:   recipient,
		Body:       req.Body,
		Kind:       models.MessageText,
		CreatedAt:  s.now(),
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, apperrors.Persistence("Failed to send message", err)
	}

	// no compensation: a failure here leaves the stored message without a counter bump
	if err := s.exchanges.RecordMessage(ctx, exchange.ID, message.CreatedAt); err != nil {
		return nil, apperrors.Persistence("Failed to send message", err)
	}

	metrics.ChatMessages.Inc()
	view := message.View(sender.Summary())

	s.emitter.EmitToRoom(ExchangeRoom(exchange.ID), "message:new", view, "")
	s.emitter.EmitToRoom(UserRoom(recipient), "notification:new", MessageNotification{
		Type:       "message",
		ExchangeID: exchange.ID,
		FromUser:   sender.Name,
		Preview:    truncate(req.Body, s.cfg.PreviewLength),
	}, "")

	publish(ctx, s.publisher, s.log, events.SubjectMessageCreated, MessageCreatedEvent{
		MessageID:  message.ID,
		ExchangeID: exchange.ID,
		FromUserID: sender.ID,
		ToUserID:   recipient,
		CreatedAt:  message.CreatedAt,
	})

	return &view, nil
}

// History returns one page of an exchange's messages, oldest first within the page.
// page starts at 1.
func (s *ChatService) History(ctx context.Context, requesterID, exchangeID string, page, limit int) ([]models.MessageView, error) {
	if _, err := s.Authorize(ctx, requesterID, exchangeID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	messages, err := s.messages.ListByExchange(ctx, exchangeID, limit, (page-1)*limit)
	if err != nil {
		return nil, apperrors.Persistence("Failed to load messages", err)
	}

	senders := make(map[string]models.UserSummary)
	for _, id := range lo.Uniq(lo.Map(messages, func(m models.Message, _ int) string { return m.FromUserID })) {
		summary := models.UserSummary{ID: id}
		if u, err := s.users.Lookup(ctx, id); err == nil {
			summary = u.Summary()
		}
		senders[id] = summary
	}

	views := make([]models.MessageView, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		views = append(views, messages[i].View(senders[messages[i].FromUserID]))
	}
	return views, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
