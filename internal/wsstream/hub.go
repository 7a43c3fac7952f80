// Package wsstream pushes live backend.Table snapshots to connected
// admin-UI clients over a websocket, the server-side counterpart to the
// outbound gorilla/websocket dialing the teacher's internal/relay
// package does against upstream nodes. The connection bookkeeping here
// (a registry guarded by a mutex, periodic cleanup of dead peers)
// follows the same shape as the teacher's RateLimiter/PeerConnection
// maps in cmd/sprint.
package wsstream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/PayRpc/accessl-dispatch/internal/backend"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts backend.Table snapshots to every connected client on a
// fixed interval.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	table   *backend.Table
	logger  *zap.Logger
}

// New returns a Hub that will broadcast snapshots of table.
func New(table *backend.Table, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		table:   table,
		logger:  logger,
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection for broadcast. It returns once the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.register(conn)
	defer h.unregister(conn)

	// Drain and discard incoming frames; this is a push-only stream but
	// we still need to notice a client-initiated close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
	h.logger.Debug("websocket client connected", zap.Int("total_clients", len(h.clients)))
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
	h.logger.Debug("websocket client disconnected", zap.Int("total_clients", len(h.clients)))
}

// Run broadcasts a fresh table snapshot to every connected client every
// interval, until ctx-equivalent stop is signaled by closing done.
func (h *Hub) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *Hub) broadcast() {
	payload, err := json.Marshal(h.table.Snapshot())
	if err != nil {
		h.logger.Warn("marshal snapshot for broadcast", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("dropping unresponsive websocket client", zap.Error(err))
			delete(h.clients, conn)
			conn.Close()
		}
	}
}
