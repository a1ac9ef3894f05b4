package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/repository"
	"talenttrade/backend/internal/service"
	"talenttrade/backend/pkg/cache"
	"talenttrade/backend/pkg/events"
	"talenttrade/backend/pkg/jwt"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

type gateway struct {
	hub      *Hub
	server   *httptest.Server
	store    *repository.Store
	tokens   *jwt.Service
	lastSeen *redis.MemoryLastSeen
	alice    *models.User
	bob      *models.User
	mallory  *models.User
	exchange *models.Exchange
}

func newGateway(t *testing.T, opts Options) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := logger.Discard()

	g := &gateway{
		store:    repository.NewMemoryStore(),
		tokens:   jwt.NewService("test-secret", time.Hour),
		lastSeen: redis.NewMemoryLastSeen(time.Hour, 100),
	}
	g.alice = &models.User{Name: "Alice"}
	g.bob = &models.User{Name: "Bob"}
	g.mallory = &models.User{Name: "Mallory"}
	for _, u := range []*models.User{g.alice, g.bob, g.mallory} {
		require.NoError(t, g.store.Users.Create(ctx, u))
	}
	g.exchange = &models.Exchange{UserAID: g.alice.ID, UserBID: g.bob.ID, Status: models.ExchangeActive}
	require.NoError(t, g.store.Exchanges.Create(ctx, g.exchange))

	g.hub = NewHub(opts, log)
	identity := service.NewIdentityService(g.store.Users, g.tokens, cache.New[models.User](cache.Options{TTL: time.Minute}), log)
	g.hub.Bind(Services{
		Verifier: identity,
		Chat: service.NewChatService(g.store.Exchanges, g.store.Messages, identity, g.hub, events.Noop{},
			service.ChatConfig{MaxBodyLength: 1000, PreviewLength: 50}, log),
		Calls:    service.NewCallService(g.store.Exchanges, g.store.Calls, g.hub, events.Noop{}, log),
		Typing:   service.NewTypingRelay(g.hub),
		LastSeen: g.lastSeen,
	})

	engine := gin.New()
	engine.GET("/ws", g.hub.ServeWs)
	g.server = httptest.NewServer(engine)
	t.Cleanup(func() {
		g.server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		g.hub.Shutdown(ctx)
	})
	return g
}

func (g *gateway) dial(t *testing.T, user *models.User) *websocket.Conn {
	t.Helper()
	token, err := g.tokens.GenerateToken(user.ID)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		c, ok := g.hub.presence.Lookup(user.ID)
		return ok && g.hub.rooms.In(c, service.UserRoom(user.ID))
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: raw}))
}

// expect reads frames until event arrives, skipping anything else
func expect(t *testing.T, conn *websocket.Conn, event string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s", event)
		if frame.Event != event {
			continue
		}
		var data map[string]any
		if len(frame.Data) > 0 {
			require.NoError(t, json.Unmarshal(frame.Data, &data))
		}
		return data
	}
}

func TestHandshakeRefusesBadCredential(t *testing.T) {
	g := newGateway(t, DefaultOptions())
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws?token=garbage"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, g.hub.ConnectionCount())
	assert.Zero(t, g.hub.presence.Len())
}

func TestCallScenarioEndToEnd(t *testing.T) {
	g := newGateway(t, DefaultOptions())
	a := g.dial(t, g.alice)
	b := g.dial(t, g.bob)

	send(t, a, "call:initiate", map[string]string{"exchangeId": g.exchange.ID, "targetUserId": g.bob.ID})
	initiated := expect(t, a, "call:initiated")
	callID, _ := initiated["callId"].(string)
	require.NotEmpty(t, callID)

	incoming := expect(t, b, "call:incoming")
	assert.Equal(t, callID, incoming["callId"])
	assert.Equal(t, g.exchange.ID, incoming["exchangeId"])
	assert.Equal(t, g.alice.ID, incoming["caller"].(map[string]any)["id"])

	send(t, b, "call:accept", map[string]string{"callId": callID})
	accepted := expect(t, a, "call:accepted")
	assert.Equal(t, callID, accepted["callId"])
	assert.Equal(t, g.bob.ID, accepted["callee"].(map[string]any)["id"])

	send(t, a, "call:offer", map[string]any{
		"callId":       callID,
		"targetUserId": g.bob.ID,
		"sdp":          map[string]string{"type": "offer", "sdp": offerSDP},
	})
	offer := expect(t, b, "call:offer")
	assert.Equal(t, g.alice.ID, offer["fromUserId"])
	assert.Equal(t, offerSDP, offer["sdp"].(map[string]any)["sdp"])

	send(t, b, "call:end", map[string]string{"callId": callID})
	ended := expect(t, a, "call:ended")
	assert.Equal(t, map[string]any{"callId": callID, "reason": "ended"}, ended)

	call, err := g.store.Calls.GetByID(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, call.Status)
	assert.GreaterOrEqual(t, call.DurationSec, int64(0))
	assert.NotNil(t, call.EndedAt)
}

func TestSignalingErrorsStayOnSender(t *testing.T) {
	g := newGateway(t, DefaultOptions())
	a := g.dial(t, g.alice)
	m := g.dial(t, g.mallory)

	send(t, m, "call:initiate", map[string]string{"exchangeId": g.exchange.ID, "targetUserId": g.alice.ID})
	failed := expect(t, m, "call:error")
	assert.NotEmpty(t, failed["message"])

	send(t, a, "call:offer", map[string]any{
		"callId":       "whatever",
		"targetUserId": g.bob.ID,
		"sdp":          map[string]string{"type": "offer", "sdp": "not sdp"},
	})
	expect(t, a, "call:error")

	send(t, a, "call:accept", "not an object")
	assert.Equal(t, "Invalid payload", expect(t, a, "call:error")["message"])
}

func TestChatThroughRooms(t *testing.T) {
	g := newGateway(t, DefaultOptions())
	a := g.dial(t, g.alice)
	b := g.dial(t, g.bob)
	m := g.dial(t, g.mallory)

	room := service.ExchangeRoom(g.exchange.ID)
	send(t, a, "presence:join", map[string]string{"exchangeId": g.exchange.ID})
	require.Eventually(t, func() bool { return len(g.hub.rooms.Members(room)) == 1 }, 2*time.Second, 5*time.Millisecond)
	send(t, b, "presence:join", map[string]string{"exchangeId": g.exchange.ID})
	joined := expect(t, a, "presence:user_joined")
	assert.Equal(t, map[string]any{"userId": g.bob.ID, "name": "Bob"}, joined)

	send(t, m, "presence:join", map[string]string{"exchangeId": g.exchange.ID})
	assert.Equal(t, "Access denied", expect(t, m, "error")["message"])

	send(t, b, "typing:start", map[string]string{"exchangeId": g.exchange.ID})
	assert.Equal(t, g.bob.ID, expect(t, a, "typing:user_typing")["userId"])

	send(t, a, "message:send", map[string]string{"exchangeId": g.exchange.ID, "body": "hello Bob"})
	msg := expect(t, b, "message:new")
	assert.Equal(t, "hello Bob", msg["body"])
	assert.Equal(t, g.alice.ID, msg["fromUser"].(map[string]any)["id"])
	assert.Equal(t, "hello Bob", expect(t, a, "message:new")["body"])

	note := expect(t, b, "notification:new")
	assert.Equal(t, "message", note["type"])
	assert.Equal(t, "Alice", note["fromUser"])

	send(t, a, "message:send", map[string]string{"exchangeId": g.exchange.ID, "body": "   "})
	assert.Equal(t, "Message body is required", expect(t, a, "error")["message"])
}

func TestPresenceIdempotentReconnect(t *testing.T) {
	g := newGateway(t, DefaultOptions())
	observer := g.dial(t, g.mallory)

	first := g.dial(t, g.alice)
	second := g.dial(t, g.alice)

	assert.Equal(t, g.alice.ID, expect(t, observer, "user:online")["userId"])
	assert.Equal(t, g.alice.ID, expect(t, observer, "user:online")["userId"])
	assert.Equal(t, 2, g.hub.presence.Len())

	current, ok := g.hub.presence.Lookup(g.alice.ID)
	require.True(t, ok)

	first.Close()
	require.Eventually(t, func() bool { return g.hub.ConnectionCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	still, ok := g.hub.presence.Lookup(g.alice.ID)
	require.True(t, ok, "closing the replaced connection keeps the identity online")
	assert.Same(t, current, still)

	send(t, second, "ping", nil)
	expect(t, second, "pong")
}

func TestDisconnectSettlesCallsAndStoresLastSeen(t *testing.T) {
	g := newGateway(t, DefaultOptions())
	a := g.dial(t, g.alice)
	b := g.dial(t, g.bob)

	send(t, a, "call:initiate", map[string]string{"exchangeId": g.exchange.ID, "targetUserId": g.bob.ID})
	callID := expect(t, a, "call:initiated")["callId"].(string)
	expect(t, b, "call:incoming")
	send(t, b, "call:accept", map[string]string{"callId": callID})
	expect(t, a, "call:accepted")

	b.Close()

	assert.Equal(t, g.bob.ID, expect(t, a, "user:offline")["userId"])
	assert.Equal(t, map[string]any{"callId": callID, "reason": "disconnected"}, expect(t, a, "call:ended"))

	call, err := g.store.Calls.GetByID(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, call.Status)

	require.Eventually(t, func() bool {
		_, ok, _ := g.hub.LastSeen(context.Background(), g.bob.ID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, g.hub.IsOnline(g.bob.ID))
}

func TestEventRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.EventRate = 0.001
	opts.EventBurst = 1
	g := newGateway(t, opts)
	a := g.dial(t, g.alice)

	send(t, a, "ping", nil)
	expect(t, a, "pong")
	send(t, a, "ping", nil)
	assert.Equal(t, "Rate limit exceeded", expect(t, a, "error")["message"])
}

func TestUnknownEvent(t *testing.T) {
	g := newGateway(t, DefaultOptions())
	a := g.dial(t, g.alice)

	send(t, a, "teleport", map[string]string{})
	assert.Equal(t, "Unknown event", expect(t, a, "error")["message"])
}
