// Package websocket pushes save and propagation events to connected editor
// clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/pagegraph/internal/logging"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected clients and fans events out to them.
//
// A single goroutine owns the client set; connections register and
// unregister through channels. Clients that fall behind are dropped.
type Hub struct {
	clients map[*websocket.Conn]*client
	count   atomic.Int64

	broadcast  chan []byte
	register   chan *client
	unregister chan *websocket.Conn

	originPatterns []string
	logger         logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// NewHub creates a hub and starts its event loop. originPatterns are host
// patterns accepted in the Origin header; an empty list accepts only same
// host requests.
func NewHub(logger logging.Logger, originPatterns []string) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:        make(map[*websocket.Conn]*client),
		broadcast:      make(chan []byte, 256),
		register:       make(chan *client, 32),
		unregister:     make(chan *websocket.Conn, 32),
		originPatterns: originPatterns,
		logger:         logger.WithComponent("websocket"),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go h.run()
	return h
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	}

	// Editors only listen; CloseRead handles control frames and reports
	// when the peer goes away.
	readCtx := conn.CloseRead(h.ctx)
	h.writeLoop(readCtx, c)

	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c.conn] = c
			h.count.Store(int64(len(h.clients)))
			h.logger.Debug(h.ctx, "WebSocket client connected", "clients", len(h.clients))

		case conn := <-h.unregister:
			h.drop(conn, websocket.StatusNormalClosure, "")

		case message := <-h.broadcast:
			for conn, c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.drop(conn, websocket.StatusPolicyViolation, "client too slow")
				}
			}

		case <-h.ctx.Done():
			for conn := range h.clients {
				h.drop(conn, websocket.StatusGoingAway, "server shutting down")
			}
			return
		}
	}
}

// drop must only be called from run.
func (h *Hub) drop(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	c, ok := h.clients[conn]
	if !ok {
		return
	}
	delete(h.clients, conn)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
	// Close waits for the peer's close frame; keep the loop responsive.
	go func() { _ = conn.Close(code, reason) }()
	h.logger.Debug(h.ctx, "WebSocket client disconnected", "clients", len(h.clients))
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(ctx, "WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// Broadcast queues event for every connected client. It never blocks; the
// event is dropped when the hub is saturated or shut down.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error(h.ctx, err, "Failed to encode event", "type", event.Type)
		return
	}

	select {
	case <-h.ctx.Done():
		return
	default:
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(h.ctx, nil, "Broadcast queue full, dropping event", "type", event.Type)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Shutdown disconnects every client and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(h.cancel)
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
