package api

import (
	"net/http"
	"time"

	"talenttrade/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker *health.Checker
	version string
	started time.Time
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status      string                       `json:"status"`
	Timestamp   time.Time                    `json:"timestamp"`
	Version     string                       `json:"version"`
	Uptime      string                       `json:"uptime"`
	Connections int                          `json:"connections"`
	Components  map[string]*health.Component `json:"components"`
}

// ConnectionCounter reports open realtime connections
type ConnectionCounter interface {
	ConnectionCount() int
}

func NewHealthHandler(checker *health.Checker, version string) *HealthHandler {
	return &HealthHandler{checker: checker, version: version, started: time.Now()}
}

// Handler returns the health check handler
func (h *HealthHandler) Handler(conns ConnectionCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{
			Status:     "ok",
			Timestamp:  time.Now(),
			Version:    h.version,
			Uptime:     time.Since(h.started).Round(time.Second).String(),
			Components: h.checker.GetStatus(),
		}
		if conns != nil {
			resp.Connections = conns.ConnectionCount()
		}

		code := http.StatusOK
		if !h.checker.IsSystemHealthy() {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}

// RegisterHealthRoutes registers health check related routes
func (h *HealthHandler) RegisterHealthRoutes(router gin.IRoutes, conns ConnectionCounter) {
	handler := h.Handler(conns)
	router.GET("/health", handler)
	router.GET("/api/health", handler)
}
