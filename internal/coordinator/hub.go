package coordinator

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// PhaseUpdate is broadcast to every connected dashboard client whenever a
// phase transitions.
type PhaseUpdate struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id"`
	Phase      string `json:"phase"`
	Status     string `json:"status"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out PhaseUpdate broadcasts to every connected websocket client.
// An update for a client whose buffer is full is dropped for that client
// rather than blocking the Coordinator's tick loop; the connection stays open.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan PhaseUpdate
	logger  *log.Logger
}

// NewHub returns an empty Hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan PhaseUpdate), logger: logger}
}

// ServeHTTP upgrades the request to a websocket connection and registers it
// for broadcasts until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("coordinator: websocket upgrade failed", "error", err)
		}
		return
	}
	ch := make(chan PhaseUpdate, 16)

	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close() //nolint:errcheck
	}()

	for update := range ch {
		if err := conn.WriteJSON(update); err != nil {
			return
		}
	}
}

// Broadcast sends update to every connected client, non-blockingly.
func (h *Hub) Broadcast(update PhaseUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- update:
		default:
			if h.logger != nil {
				h.logger.Warn("coordinator: dropping update for slow websocket client", "remote", conn.RemoteAddr())
			}
		}
	}
}

// MarshalForLog renders update as a single JSON line for debug logging.
func MarshalForLog(update PhaseUpdate) ([]byte, error) {
	return json.Marshal(update)
}
