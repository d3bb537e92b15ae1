package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/game-lobby/internal/game"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Frames queued per connection before it counts as too slow
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one websocket connection. Its messages are handled one at a time in
// arrival order by the read pump.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	// address is set once the connection proves an identity; guarded by hub.mu
	address string

	closed bool
	mu     sync.Mutex
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:      uuid.New().String(),
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(hub.opts.RateLimit, hub.opts.RateBurst),
	}
}

// ID identifies the connection
func (c *Client) ID() string {
	return c.id
}

// Address returns the verified identity bound to the connection, if any
func (c *Client) Address() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.address
}

// Deliver queues a frame without blocking. It returns false when the queue is full
// or the connection is gone.
func (c *Client) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the queue so the write pump says goodbye and exits
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendMessage marshals and queues a frame for this client only
func (c *Client) sendMessage(msg Message) {
	c.sendFrame(msg.Type, msg)
}

func (c *Client) sendFrame(kind string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("type", kind).Msg("marshal frame")
		return
	}
	if !c.hub.Send(c, data) {
		log.Warn().Str("client", c.id).Str("type", kind).Msg("send buffer full, dropping frame")
	}
}

// sendError reports a failed request to the client. A StateError about a game
// carries the game's current view so the client can resynchronise.
func (c *Client) sendError(err error, current *game.View) {
	kind := game.KindOf(err)
	msg := Message{Type: TypeError, Kind: kind, Message: err.Error()}
	if kind == "" {
		log.Error().Err(err).Str("client", c.id).Msg("unclassified error")
		msg.Message = "internal error"
	}
	if kind == game.KindState {
		msg.Game = current
	}
	c.sendMessage(msg)
}

// readPump pumps messages from the websocket connection to the handler
func (c *Client) readPump(handler *Handler) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("connection lost")
			}
			return
		}
		if !c.limiter.Allow() {
			c.sendError(game.Validationf("rate limit exceeded"), nil)
			continue
		}
		handler.HandleMessage(c, data)
	}
}

// writePump pumps queued frames to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and starts the connection's pumps
func ServeWs(hub *Hub, handler *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := newClient(hub, conn)
		hub.Register(client)

		go client.writePump()
		go client.readPump(handler)
	}
}

// kick closes the transport so the read pump unregisters the client
func (c *Client) kick() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.hub.Unregister(c)
}
