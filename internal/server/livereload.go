package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/spindle/internal/logging"
)

const (
	// LiveReloadPath is where browsers connect for reload notifications.
	LiveReloadPath = "/__spindle/livereload"

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second
)

// liveReloadScript is injected before </body> of served HTML pages.
const liveReloadScript = `<script>(function(){var p=location.protocol==="https:"?"wss:":"ws:";` +
	`var ws=new WebSocket(p+"//"+location.host+"` + LiveReloadPath + `");` +
	`ws.onmessage=function(e){if(e.data==="reload"){location.reload();}};})();</script>`

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans reload messages out to every connected browser. It is shared by
// all servers of a pool, so one rebuild reloads every open tab.
type Hub struct {
	logger logging.Logger

	mutex   sync.RWMutex
	clients map[*websocket.Conn]*client
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{
		logger:  logger.WithComponent("livereload"),
		clients: make(map[*websocket.Conn]*client),
	}
}

// ServeHTTP upgrades the request and keeps the connection until the browser
// goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}

	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		conn.Close(websocket.StatusGoingAway, "server stopping")
		return
	}
	h.clients[conn] = c
	h.mutex.Unlock()

	// Browsers never talk back; CloseRead handles control frames and
	// cancels ctx once the peer disconnects.
	ctx := conn.CloseRead(context.Background())
	h.writePump(ctx, c)

	h.remove(conn)
}

func (h *Hub) writePump(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mutex.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
	}
	h.mutex.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

// Broadcast sends message to every client. Slow clients drop messages
// rather than block the rebuild.
func (h *Hub) Broadcast(message string) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, c := range h.clients {
		select {
		case c.send <- []byte(message):
		default:
			// Client's send channel is full
		}
	}
}

// Reload tells every browser to reload.
func (h *Hub) Reload() {
	h.Broadcast("reload")
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.closed = true
	for conn, c := range h.clients {
		close(c.send)
		delete(h.clients, conn)
	}
}
