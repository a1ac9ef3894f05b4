package api

import (
	"context"
	"net/http"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// CallLookup returns call sessions visible to a party
type CallLookup interface {
	Get(ctx context.Context, userID, callID string) (*models.CallSession, error)
}

// CallHandler serves call session reads
type CallHandler struct {
	calls CallLookup
}

func NewCallHandler(calls CallLookup) *CallHandler {
	return &CallHandler{calls: calls}
}

func (h *CallHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/calls/:id", h.GetCall)
}

// GetCall returns a session to either of its parties
func (h *CallHandler) GetCall(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	call, err := h.calls.Get(c.Request.Context(), principal.ID, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, call)
}
