package ws

import (
	"context"
	"net/http"
	"time"

	apperrors "talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/metrics"
	"talenttrade/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ServeWs verifies the bearer credential and upgrades the request.
// A refused handshake never creates connection state.
func (h *Hub) ServeWs(c *gin.Context) {
	log := logger.FromGin(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.EventTimeout)
	user, err := h.svc.Verifier.Verify(ctx, middleware.TokenFromRequest(c.Request))
	cancel()
	if err != nil {
		metrics.HandshakesTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		log.Warn("handshake refused", "error", err, "remote", c.ClientIP())
		appErr := apperrors.FromError(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"code": apperrors.CodeAuthentication, "message": appErr.Message},
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		metrics.HandshakesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.LogError(err, "websocket upgrade failed")
		return
	}
	metrics.HandshakesTotal.WithLabelValues(metrics.OutcomeOK).Inc()

	limit := rate.Limit(h.opts.EventRate)
	if h.opts.EventRate <= 0 {
		limit = rate.Inf
	}

	id := uuid.NewString()
	client := &Client{
		ID:          id,
		hub:         h,
		conn:        conn,
		user:        user,
		send:        make(chan []byte, h.opts.SendBuffer),
		limiter:     rate.NewLimiter(limit, h.opts.EventBurst),
		connectedAt: time.Now(),
		log:         h.log.WithConnection(id).WithUserID(user.ID),
	}
	h.connect(client)

	go client.WritePump()
	go client.ReadPump()
}
