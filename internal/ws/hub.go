package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/service"
	"talenttrade/backend/pkg/config"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/metrics"
	"talenttrade/backend/pkg/redis"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Options tune the gateway
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
	EventRate      float64
	EventBurst     int
	EventTimeout   time.Duration
	AllowedOrigins []string
	// EndCallsOnDisconnect settles the sessions of an identity whose
	// registered connection goes away.
	EndCallsOnDisconnect bool
}

func DefaultOptions() Options {
	return Options{
		WriteWait:            10 * time.Second,
		PongWait:             60 * time.Second,
		MaxMessageSize:       64 * 1024,
		SendBuffer:           256,
		EventRate:            20,
		EventBurst:           60,
		EventTimeout:         10 * time.Second,
		EndCallsOnDisconnect: true,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WriteWait:            cfg.WebSocket.WriteWait,
		PongWait:             cfg.WebSocket.PongWait,
		MaxMessageSize:       cfg.WebSocket.MaxMessageSize,
		SendBuffer:           cfg.WebSocket.SendBuffer,
		EventRate:            cfg.WebSocket.EventRate,
		EventBurst:           cfg.WebSocket.EventBurst,
		EventTimeout:         cfg.WebSocket.EventTimeout,
		AllowedOrigins:       cfg.Security.AllowedOrigins,
		EndCallsOnDisconnect: cfg.Calls.EndOnDisconnect,
	}
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Verifier resolves a bearer credential to an identity
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

// ChatRelay is the chat side of the gateway
type ChatRelay interface {
	Authorize(ctx context.Context, userID, exchangeID string) (*models.Exchange, error)
	SendMessage(ctx context.Context, sender *models.User, req service.SendMessageRequest) (*models.MessageView, error)
}

// Signaling is the call side of the gateway
type Signaling interface {
	Initiate(ctx context.Context, caller *models.User, req service.InitiateCallRequest) (*models.CallSession, error)
	Accept(ctx context.Context, callee *models.User, req service.CallRequest) error
	Decline(ctx context.Context, user *models.User, req service.CallRequest) error
	End(ctx context.Context, user *models.User, req service.EndCallRequest) error
	Relay(ctx context.Context, from *models.User, kind service.RelayKind, req service.RelayRequest) error
	EndForDisconnect(ctx context.Context, userID string) error
}

// Typing relays typing indicators
type Typing interface {
	Start(user *models.User, connID string, req service.TypingRequest) error
	Stop(user *models.User, connID string, req service.TypingRequest) error
}

// Services are the collaborators the hub dispatches to
type Services struct {
	Verifier Verifier
	Chat     ChatRelay
	Calls    Signaling
	Typing   Typing
	LastSeen redis.LastSeenStore
}

// PresenceUser is the user:online, user:offline and presence:user_joined payload
type PresenceUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Hub maintains the set of active clients, the presence registry and rooms,
// and fans frames out to room members.
type Hub struct {
	opts     Options
	svc      Services
	presence *Presence
	rooms    *Rooms
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
	log      *logger.Logger
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*Client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. Services are bound separately with Bind since they
// emit through the hub.
func NewHub(opts Options, log *logger.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:     opts,
		presence: NewPresence(),
		rooms:    NewRooms(),
		log:      log,
		now:      time.Now,
		clients:  make(map[*Client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	h.handlers = h.routes()
	return h
}

// Bind attaches the services. It must be called before the first connection.
func (h *Hub) Bind(svc Services) {
	h.svc = svc
}

// EmitToRoom sends event to every member of room except the connection with id except
func (h *Hub) EmitToRoom(room, event string, payload any, except string) {
	frame, err := encode(event, payload)
	if err != nil {
		h.log.LogError(err, "failed to encode frame", "event", event)
		return
	}
	for _, c := range h.rooms.Members(room) {
		if c.ID == except {
			continue
		}
		c.enqueue(frame)
	}
}

func (h *Hub) broadcast(event string, payload any, except *Client) {
	frame, err := encode(event, payload)
	if err != nil {
		h.log.LogError(err, "failed to encode frame", "event", event)
		return
	}
	h.mu.RLock()
	targets := lo.Keys(h.clients)
	h.mu.RUnlock()

	for _, c := range targets {
		if c != except {
			c.enqueue(frame)
		}
	}
}

func (h *Hub) connect(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()

	replaced := h.presence.Register(c)
	h.rooms.Join(c, service.UserRoom(c.UserID()))
	h.broadcast("user:online", PresenceUser{UserID: c.UserID(), Name: c.user.Name}, c)

	c.log.Info("client connected", "replaced", replaced != nil)
}

// disconnect tears the connection down exactly once
func (h *Hub) disconnect(c *Client) {
	c.teardown.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		metrics.ConnectionsActive.Dec()

		h.rooms.LeaveAll(c)
		c.closeSend()

		_, removed := h.presence.Unregister(c)
		c.log.Info("client disconnected", "registered", removed)
		if !removed {
			return
		}

		h.broadcast("user:offline", PresenceUser{UserID: c.UserID(), Name: c.user.Name}, nil)
		h.afterOffline(c.UserID())
	})
}

func (h *Hub) afterOffline(userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), h.opts.EventTimeout)
	defer cancel()
	log := h.log.WithUserID(userID)

	if h.svc.LastSeen != nil {
		if err := h.svc.LastSeen.Save(ctx, userID, h.now()); err != nil {
			log.LogError(err, "failed to store last seen")
		}
	}
	if h.opts.EndCallsOnDisconnect && h.svc.Calls != nil {
		if err := h.svc.Calls.EndForDisconnect(ctx, userID); err != nil {
			log.LogError(err, "failed to settle calls on disconnect")
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.opts.AllowedOrigins, "*") || lo.Contains(h.opts.AllowedOrigins, origin)
}

// IsOnline reports whether userID has a registered connection
func (h *Hub) IsOnline(userID string) bool {
	_, ok := h.presence.Lookup(userID)
	return ok
}

// Online returns a snapshot of the presence registry
func (h *Hub) Online() []OnlineUser {
	return h.presence.Online()
}

// LastSeen returns when userID was last connected, if known
func (h *Hub) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	if h.svc.LastSeen == nil {
		return time.Time{}, false, nil
	}
	return h.svc.LastSeen.Get(ctx, userID)
}

// ConnectionCount returns the number of open connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for their teardown or ctx
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	targets := lo.Keys(h.clients)
	h.mu.RUnlock()

	for _, c := range targets {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.opts.WriteWait))
		c.conn.Close()
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	defer h.cancel()
	for h.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
