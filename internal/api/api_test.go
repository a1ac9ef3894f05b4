package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/ws"
	apperrors "talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/health"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHistory struct {
	page, limit int
}

func (s *stubHistory) History(_ context.Context, requesterID, exchangeID string, page, limit int) ([]models.MessageView, error) {
	if requesterID != "alice" {
		return nil, apperrors.AccessDenied("Access denied")
	}
	s.page, s.limit = page, limit
	return []models.MessageView{{ID: "m1", ExchangeID: exchangeID, Body: "hi"}}, nil
}

type stubPresence struct {
	online   map[string]bool
	lastSeen map[string]time.Time
	err      error
}

func (s stubPresence) IsOnline(userID string) bool { return s.online[userID] }

func (s stubPresence) Online() []ws.OnlineUser {
	return []ws.OnlineUser{{UserID: "alice", Name: "Alice"}}
}

func (s stubPresence) LastSeen(_ context.Context, userID string) (time.Time, bool, error) {
	at, ok := s.lastSeen[userID]
	return at, ok, s.err
}

func engineAs(principal *middleware.Principal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.Use(func(c *gin.Context) {
		c.Set("principal", principal)
		c.Next()
	})
	return r
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListMessagesPaging(t *testing.T) {
	history := &stubHistory{}
	r := engineAs(&middleware.Principal{ID: "alice"})
	NewExchangeHandler(history).RegisterRoutes(r.Group("/api"))

	w := serve(r, "/api/exchanges/ex1/messages?page=3&limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, history.page)
	assert.Equal(t, 10, history.limit)

	var body struct {
		ExchangeID string               `json:"exchangeId"`
		Count      int                  `json:"count"`
		Messages   []models.MessageView `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ex1", body.ExchangeID)
	assert.Equal(t, 1, body.Count)

	serve(r, "/api/exchanges/ex1/messages")
	assert.Equal(t, 1, history.page)
	assert.Equal(t, 50, history.limit)

	assert.Equal(t, http.StatusBadRequest, serve(r, "/api/exchanges/ex1/messages?page=0").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, "/api/exchanges/ex1/messages?limit=abc").Code)
}

func TestListMessagesDeniedForOutsider(t *testing.T) {
	r := engineAs(&middleware.Principal{ID: "mallory"})
	NewExchangeHandler(&stubHistory{}).RegisterRoutes(r.Group("/api"))

	w := serve(r, "/api/exchanges/ex1/messages")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeAccessDenied)
}

func TestPresenceLookup(t *testing.T) {
	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := engineAs(&middleware.Principal{ID: "alice", Role: models.RoleUser})
	NewPresenceHandler(stubPresence{
		online:   map[string]bool{"alice": true},
		lastSeen: map[string]time.Time{"bob": seen, "alice": seen},
	}).RegisterRoutes(r.Group("/api"))

	var got UserPresence
	require.NoError(t, json.Unmarshal(serve(r, "/api/users/bob/presence").Body.Bytes(), &got))
	assert.Equal(t, "bob", got.UserID)
	assert.False(t, got.Online)
	require.NotNil(t, got.LastSeen)
	assert.True(t, seen.Equal(*got.LastSeen))

	got = UserPresence{}
	require.NoError(t, json.Unmarshal(serve(r, "/api/users/alice/presence").Body.Bytes(), &got))
	assert.True(t, got.Online)
	assert.Nil(t, got.LastSeen, "online users carry no last seen")

	assert.Equal(t, http.StatusForbidden, serve(r, "/api/admin/presence").Code)
}

func TestPresenceStoreFailure(t *testing.T) {
	r := engineAs(&middleware.Principal{ID: "root", Role: models.RoleAdmin})
	NewPresenceHandler(stubPresence{err: errors.New("redis down")}).RegisterRoutes(r.Group("/api"))

	assert.Equal(t, http.StatusInternalServerError, serve(r, "/api/users/bob/presence").Code)
	assert.Equal(t, http.StatusOK, serve(r, "/api/admin/presence").Code)
}

type fixedCount int

func (f fixedCount) ConnectionCount() int { return int(f) }

func TestHealthReportsDegradedComponents(t *testing.T) {
	checker := health.NewChecker(logger.Discard(), time.Minute)
	checker.RegisterDatabaseCheck(func(context.Context) error { return errors.New("down") })
	checker.RunChecks(context.Background())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHealthHandler(checker, "1.2.3").RegisterHealthRoutes(r, fixedCount(4))

	w := serve(r, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, 4, resp.Connections)
	assert.Equal(t, health.StatusDown, resp.Components["database"].Status)
}
