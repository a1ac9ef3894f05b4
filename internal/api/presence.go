package api

import (
	"context"
	"net/http"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/ws"
	"talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// PresenceReader exposes the gateway's presence state
type PresenceReader interface {
	IsOnline(userID string) bool
	Online() []ws.OnlineUser
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// PresenceHandler serves presence lookups
type PresenceHandler struct {
	presence PresenceReader
}

func NewPresenceHandler(presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// RegisterRoutes registers presence routes; the admin listing needs the admin role
func (h *PresenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users/:id/presence", h.GetPresence)

	admin := rg.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	admin.GET("/presence", h.ListOnline)
}

// UserPresence is the presence of one identity
type UserPresence struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen"`
}

func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID := c.Param("id")
	resp := UserPresence{UserID: userID, Online: h.presence.IsOnline(userID)}

	if !resp.Online {
		at, ok, err := h.presence.LastSeen(c.Request.Context(), userID)
		if err != nil {
			c.Error(errors.Persistence("Failed to load presence", err))
			return
		}
		if ok {
			resp.LastSeen = &at
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PresenceHandler) ListOnline(c *gin.Context) {
	users := h.presence.Online()
	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}
