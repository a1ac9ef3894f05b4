package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/pkg/config"
	"talenttrade/backend/pkg/di"
	"talenttrade/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	router   *Router
	c        *di.Container
	alice    *models.User
	bob      *models.User
	admin    *models.User
	exchange *models.Exchange
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Load()
	cfg.JWT.Secret = "router-test-secret"
	cfg.Security.RateLimit = 1000
	cfg.Security.RateLimitBurst = 1000
	cfg.Redis.Enabled = false
	cfg.NATS.Enabled = false
	cfg.Vault.Enabled = false
	cfg.OpenAPISchemaPath = "../../api/openapi.yaml"

	c, err := di.New(ctx, cfg, nil, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	app := &testApp{c: c}
	app.alice = &models.User{Name: "Alice"}
	app.bob = &models.User{Name: "Bob"}
	app.admin = &models.User{Name: "Root", Role: models.RoleAdmin}
	for _, u := range []*models.User{app.alice, app.bob, app.admin} {
		require.NoError(t, c.Store.Users.Create(ctx, u))
	}
	app.exchange = &models.Exchange{UserAID: app.alice.ID, UserBID: app.bob.ID, Status: models.ExchangeActive}
	require.NoError(t, c.Store.Exchanges.Create(ctx, app.exchange))

	app.router = New(c)
	app.router.SetupRoutes()
	return app
}

func (a *testApp) get(t *testing.T, path string, user *models.User) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != nil {
		token, err := a.c.JWTService.GenerateToken(user.ID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.Engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	w := app.get(t, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])

	w = app.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestWebSocketRouteRefusesMissingCredential(t *testing.T) {
	app := newTestApp(t)

	w := app.get(t, "/ws", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTHENTICATION_FAILED", decodeBody(t, w)["error"].(map[string]any)["code"])
}

func TestMessageHistoryRoute(t *testing.T) {
	app := newTestApp(t)
	path := "/api/exchanges/" + app.exchange.ID + "/messages"

	assert.Equal(t, http.StatusUnauthorized, app.get(t, path, nil).Code)
	assert.Equal(t, http.StatusForbidden, app.get(t, path, app.admin).Code)
	assert.Equal(t, http.StatusBadRequest, app.get(t, path+"?limit=500", app.alice).Code)

	w := app.get(t, path+"?page=1&limit=20", app.alice)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, app.exchange.ID, body["exchangeId"])
	assert.EqualValues(t, 0, body["count"])
}

func TestCallRoute(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	call := &models.CallSession{ExchangeID: app.exchange.ID, CallerID: app.alice.ID, CalleeID: app.bob.ID, StartedAt: time.Now()}
	require.NoError(t, app.c.Store.Calls.Create(ctx, call))

	w := app.get(t, "/api/calls/"+call.ID, app.bob)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "initiated", decodeBody(t, w)["status"])

	assert.Equal(t, http.StatusForbidden, app.get(t, "/api/calls/"+call.ID, app.admin).Code)
	assert.Equal(t, http.StatusNotFound, app.get(t, "/api/calls/missing", app.bob).Code)
}

func TestPresenceRoutes(t *testing.T) {
	app := newTestApp(t)

	w := app.get(t, "/api/users/"+app.bob.ID+"/presence", app.alice)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["online"])
	assert.Nil(t, body["lastSeen"])

	seen := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, app.c.LastSeen.Save(context.Background(), app.bob.ID, seen))
	body = decodeBody(t, app.get(t, "/api/users/"+app.bob.ID+"/presence", app.alice))
	assert.Equal(t, seen.Format(time.RFC3339), body["lastSeen"])

	assert.Equal(t, http.StatusForbidden, app.get(t, "/api/admin/presence", app.alice).Code)
	w = app.get(t, "/api/admin/presence", app.admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decodeBody(t, w)["count"])
}
