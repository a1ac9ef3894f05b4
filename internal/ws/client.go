package ws

import (
	"encoding/json"
	"sync"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/metrics"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Frame is the envelope of every text frame in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// ErrorPayload is carried by error and call:error
type ErrorPayload struct {
	Message string `json:"message"`
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	ID          string
	hub         *Hub
	conn        *websocket.Conn
	user        *models.User
	send        chan []byte
	limiter     *rate.Limiter
	connectedAt time.Time
	log         *logger.Logger

	mu       sync.Mutex
	closed   bool
	teardown sync.Once
}

// UserID returns the verified identity behind the connection
func (c *Client) UserID() string {
	return c.user.ID
}

// User returns the identity resolved at handshake
func (c *Client) User() *models.User {
	return c.user
}

// ReadPump pumps frames from the websocket connection to the hub.
// Events of one connection are handled in arrival order.
func (c *Client) ReadPump() {
	defer c.hub.disconnect(c)

	opts := c.hub.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.hub.presence.Touch(c)
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read failed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		c.hub.presence.Touch(c)

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			c.emit("error", ErrorPayload{Message: "Invalid frame"})
			continue
		}
		if !c.limiter.Allow() {
			metrics.EventsTotal.WithLabelValues(frame.Event, metrics.OutcomeRejected).Inc()
			c.log.Warn("event rate limited", "event", frame.Event)
			c.emit("error", ErrorPayload{Message: "Rate limit exceeded"})
			continue
		}
		c.hub.dispatch(c, frame)
	}
}

// WritePump pumps queued frames from the hub to the websocket connection
func (c *Client) WritePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) emit(event string, payload any) {
	frame, err := encode(event, payload)
	if err != nil {
		c.log.LogError(err, "failed to encode frame", "event", event)
		return
	}
	c.enqueue(frame)
}

// enqueue never blocks. A client that cannot keep up is disconnected.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
		return true
	default:
	}
	c.mu.Unlock()

	metrics.DroppedFrames.Inc()
	c.log.Warn("send buffer full, dropping connection")
	c.conn.Close()
	return false
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: payload})
}
