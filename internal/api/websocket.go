package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 5 * time.Second

// The stream carries only already-public run events, so any origin may
// subscribe.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans completed-run events out to /stream subscribers. Trades and
// chat messages published by the run handlers arrive as JSON frames on
// the events channel and reach every connected client.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	events  chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		events:  make(chan []byte, 256),
	}
}

// Run delivers queued frames until the events channel closes. A failed
// or timed-out write drops that client; the rest keep receiving.
func (h *Hub) Run() {
	for frame := range h.events {
		h.mu.Lock()
		for conn := range h.clients {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("stream: dropping client: %v", err)
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

// Subscribe upgrades the request and registers the client. Inbound
// frames are discarded; the read loop exists to notice the disconnect.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("stream: upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("stream: client subscribed (%d connected)", total)

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mu.Unlock()
			conn.Close()
			log.Printf("stream: client gone (%d connected)", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("stream: read error: %v", err)
				}
				return
			}
		}
	}()
}

// Broadcast queues one JSON frame for every subscriber.
func (h *Hub) Broadcast(data []byte) {
	h.events <- data
}
