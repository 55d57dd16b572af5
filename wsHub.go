package main

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans progress and queue updates out to connected websocket
// clients. Broadcasts never block the pipeline, slow clients get
// dropped instead.
type Hub struct {
	logger     *logrus.Entry
	clients    map[*Client]bool
	broadcast  chan interface{}
	register   chan *Client
	unregister chan *Client
	sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		logger:     CreateLogger("ws"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan interface{}, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.Lock()
			h.clients[client] = true
			h.Unlock()
			h.logger.Debug("Client registered: ", client.conn.RemoteAddr())

		case client := <-h.unregister:
			h.Lock()
			h.dropClient(client)
			h.Unlock()

		case message := <-h.broadcast:
			h.Lock()
			for client := range h.clients {
				if !client.enqueue(message) {
					h.logger.Debug("Client send buffer full, dropping client: ", client.conn.RemoteAddr())
					h.dropClient(client)
				}
			}
			h.Unlock()
		}
	}
}

// dropClient must be called with the hub lock held. Closing the send
// channel stops the client's write pump.
func (h *Hub) dropClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.send)
	client.conn.Close()
	h.logger.Debug("Client unregistered: ", client.conn.RemoteAddr())
}

// BroadcastMessage hands the message to the hub without blocking the
// caller, dropping it when the hub is backed up.
func (h *Hub) BroadcastMessage(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Debug("Broadcast channel full, dropping message")
	}
}

func (h *Hub) HandleConnections(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(err)
		c.String(http.StatusInternalServerError, "Failed to upgrade to WebSocket")
		return
	}

	client := NewClient(h, conn)
	h.register <- client

	go client.writePump()
	go client.readPump()
}
