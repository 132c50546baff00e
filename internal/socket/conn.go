package socket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 32 * 1024

	// Outbound queue depth per connection
	sendBuffer = 256
)

var (
	// ErrConnClosed is returned by Send after the connection has shut
	// down.
	ErrConnClosed = errors.New("socket: connection closed")

	// ErrSendBufferFull is returned when the peer is not draining its
	// outbound queue. The connection stays open; the message is
	// dropped.
	ErrSendBufferFull = errors.New("socket: send buffer full")
)

// Conn wraps one upgraded WebSocket connection. The per-connection
// state map is attached at upgrade time and owned exclusively by this
// connection for its lifetime; the dispatch core never shares it
// across connections.
type Conn struct {
	id          string
	ws          *websocket.Conn
	send        chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	handler     Handler
	broker      *Broker
	logger      *slog.Logger
	remoteAddr  string
	connectedAt time.Time

	mu          sync.RWMutex
	state       map[string]any
	closeCode   int
	closeReason string
}

// Upgrader turns HTTP requests into managed connections dispatched to
// a single Handler.
type Upgrader struct {
	Handler Handler
	Broker  *Broker
	Logger  *slog.Logger

	// CheckOrigin overrides the upgrade origin check. Nil allows all
	// origins.
	CheckOrigin func(r *http.Request) bool
}

// Upgrade performs the protocol upgrade, starts the connection's pumps
// and invokes the handler's OnOpen before any OnMessage can fire.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	checkOrigin := u.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	c := &Conn{
		id:          id,
		ws:          ws,
		send:        make(chan []byte, sendBuffer),
		closed:      make(chan struct{}),
		handler:     u.Handler,
		broker:      u.Broker,
		logger:      logger.With(slog.String("component", "socket.conn"), slog.String("conn_id", id)),
		remoteAddr:  ws.RemoteAddr().String(),
		connectedAt: time.Now(),
		state:       make(map[string]any),
	}

	c.logger.Info("connection opened", slog.String("remote_addr", c.remoteAddr))

	go c.writePump()
	c.handler.OnOpen(c)
	go c.readPump()
	return c, nil
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address captured at upgrade time.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Set stores a per-connection state value.
func (c *Conn) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

// Get reads a per-connection state value.
func (c *Conn) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[key]
	return v, ok
}

// Send enqueues a text message for delivery. It never blocks on a slow
// peer.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// SendJSON marshals v and enqueues it.
func (c *Conn) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Subscribe registers this connection for topic fan-out on the broker
// it was upgraded with.
func (c *Conn) Subscribe(topic string) {
	if c.broker != nil {
		c.broker.subscribe(topic, c)
	}
}

// Unsubscribe removes this connection from a topic.
func (c *Conn) Unsubscribe(topic string) {
	if c.broker != nil {
		c.broker.unsubscribe(topic, c)
	}
}

// Close asks the write pump to send a close control frame and tear the
// connection down. The gorilla conn supports a single writer, so this
// only signals; the pump owns every frame write. Safe to call more
// than once and from any goroutine.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *Conn) closeFrame() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return websocket.FormatCloseMessage(c.closeCode, c.closeReason)
}

// readPump pumps messages from the peer to the handler. It owns the
// OnClose callback: the handler sees it exactly once, after the last
// OnMessage.
func (c *Conn) readPump() {
	code := websocket.CloseAbnormalClosure
	reason := ""
	defer func() {
		if c.broker != nil {
			c.broker.drop(c)
		}
		c.Close(websocket.CloseNormalClosure, "")
		c.logger.Info("connection closed",
			slog.Int("code", code),
			slog.Duration("connection_duration", time.Since(c.connectedAt)))
		c.handler.OnClose(c, code, reason)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
				reason = closeErr.Text
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		c.handler.OnMessage(c, payload)
	}
}

// writePump is the connection's only frame writer: queued messages,
// keepalive pings, and the final close frame all go out from here. It
// closes the underlying socket on the way out, which unblocks readPump.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close(websocket.CloseAbnormalClosure, "")
		c.ws.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Error("write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, c.closeFrame())
			return
		}
	}
}
