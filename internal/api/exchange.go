package api

import (
	"context"
	"net/http"
	"strconv"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// MessageHistory pages through an exchange's messages
type MessageHistory interface {
	History(ctx context.Context, requesterID, exchangeID string, page, limit int) ([]models.MessageView, error)
}

// ExchangeHandler serves exchange-scoped reads
type ExchangeHandler struct {
	chat MessageHistory
}

// NewExchangeHandler creates a new exchange handler
func NewExchangeHandler(chat MessageHistory) *ExchangeHandler {
	return &ExchangeHandler{chat: chat}
}

// RegisterRoutes registers the exchange routes on an authenticated group
func (h *ExchangeHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/exchanges/:id/messages", h.ListMessages)
}

// ListMessages returns one page of history, oldest first within the page
func (h *ExchangeHandler) ListMessages(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	page, err := queryInt(c, "page", 1)
	if err != nil {
		c.Error(err)
		return
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		c.Error(err)
		return
	}

	exchangeID := c.Param("id")
	messages, err := h.chat.History(c.Request.Context(), principal.ID, exchangeID, page, limit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exchangeId": exchangeID,
		"page":       page,
		"messages":   messages,
		"count":      len(messages),
	})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.Validation(key + " must be a positive integer")
	}
	return n, nil
}
