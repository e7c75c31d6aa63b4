// Package trade — WebSocket hub for real-time trade broadcasting.
package trade

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papertrade/engine/internal/metrics"
)

// WSMessage is a JSON message sent to WebSocket clients after each
// executed trade.
type WSMessage struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price"`
	CashBalance string `json:"cash_balance"`
}

// WSHub manages WebSocket connections and broadcasts trade executions to
// all connected clients. Each connection carries its own write mutex:
// gorilla allows only one concurrent writer, and both the broadcast loop
// and the connection's ping goroutine write to it.
type WSHub struct {
	clients    map[*websocket.Conn]*sync.Mutex
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]*sync.Mutex),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = &sync.Mutex{}
			total := len(h.clients)
			metrics.WebSocketClients.Set(float64(total))
			h.mu.Unlock()
			slog.Info("ws client connected", "total", total)

		case conn := <-h.unregister:
			h.remove(conn)

		case msg := <-h.broadcast:
			// Snapshot under RLock, write outside it, then remove dead
			// connections under the full lock. delete never runs while
			// other goroutines may be reading the map.
			h.mu.RLock()
			conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
			for conn, wmu := range h.clients {
				conns[conn] = wmu
			}
			h.mu.RUnlock()

			var dead []*websocket.Conn
			for conn, wmu := range conns {
				wmu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, msg)
				wmu.Unlock()
				if err != nil {
					dead = append(dead, conn)
				}
			}
			for _, conn := range dead {
				h.remove(conn)
			}
		}
	}
}

func (h *WSHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// ClientCount reports the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking trade execution.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies. Pings go
	// through the connection's write mutex like every other write.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			wmu, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			wmu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			wmu.Unlock()
			if err != nil {
				return
			}
		}
	}()
}
