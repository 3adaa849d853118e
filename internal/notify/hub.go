package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"qcflow/internal/logging"
)

const writeWait = 5 * time.Second

// Hub tracks websocket subscribers and broadcasts messages to them. A
// single goroutine owns the connection set and performs every write.
type Hub struct {
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.Mutex
	clients int
}

// NewHub constructs a hub; call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logging.NewComponentLogger(logger, "notify-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*websocket.Conn]struct{})
	defer func() {
		for conn := range clients {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			conn.Close()
		}
		h.setClients(0)
		close(h.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			clients[conn] = struct{}{}
			h.setClients(len(clients))
			h.logger.Debug("websocket client connected", logging.Int("clients", len(clients)))
		case conn := <-h.unregister:
			if _, ok := clients[conn]; ok {
				delete(clients, conn)
				conn.Close()
				h.setClients(len(clients))
				h.logger.Debug("websocket client disconnected", logging.Int("clients", len(clients)))
			}
		case data := <-h.broadcast:
			for conn := range clients {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					h.logger.Debug("websocket write failed", logging.Error(err))
					delete(clients, conn)
					conn.Close()
				}
			}
			h.setClients(len(clients))
		}
	}
}

// Publish implements Publisher. Messages are dropped when the hub is not
// running or its buffer is full.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.logger.Debug("websocket broadcast dropped", logging.String("event", string(msg.Type)))
	}
	return nil
}

// ServeHTTP upgrades the request and subscribes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	go h.readLoop(conn)
}

// readLoop discards client frames and unsubscribes on the first error.
func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
			return
		}
	}
}

// Clients reports the number of subscribed connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

func (h *Hub) setClients(n int) {
	h.mu.Lock()
	h.clients = n
	h.mu.Unlock()
}
