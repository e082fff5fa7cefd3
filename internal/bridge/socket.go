package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 16

	// weight configurations are small; anything larger is a misbehaving client
	maxMessageSize = 64 << 10
)

// Socket serves the bridge over a websocket. Every text frame is a Message;
// every fetchScore message gets exactly one Response frame with the same id.
type Socket struct {
	bridge   *Bridge
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*conn]struct{}
}

type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSocket(b *Bridge, logger *zap.Logger) *Socket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Socket{
		bridge: b,
		logger: logger.Named("bridge_socket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// browser extensions connect from their own origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Socket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	// in-flight resolutions stop when the client goes away
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{
		ws:     ws,
		send:   make(chan []byte, sendBufSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	s.register(c)
	defer s.unregister(c)

	go c.writePump()
	s.readPump(c)
}

// Count returns the number of connected clients.
func (s *Socket) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client. http.Server.Shutdown does not touch
// hijacked connections, so callers run this alongside it.
func (s *Socket) Close() {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.ws.Close()
	}
}

func (s *Socket) register(c *conn) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Socket) unregister(c *conn) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Socket) readPump(c *conn) {
	defer func() {
		c.cancel()
		close(c.done)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("bridge_socket_read_error", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.deliver(Response{Success: false, Error: "invalid message: " + err.Error()})
			continue
		}

		s.bridge.Handle(c.ctx, msg, c.deliver)
	}
}

// deliver queues r for the write pump; it is dropped once the connection is gone.
func (c *conn) deliver(r Response) {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(Response{ID: r.ID, Success: false, Error: "encode response: " + err.Error()})
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})  //nolint:errcheck
			return
		}
	}
}
