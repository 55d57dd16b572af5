package main

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 30 * time.Second    // Time allowed to read the next pong message from the peer
	pingPeriod = (pongWait * 9) / 10 // Ping period must be less than pongWait
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// Client is one websocket subscriber. Broadcasts are queued on a
// buffered channel and written by a single pump goroutine, so a slow
// connection never stalls the hub or the pipelines feeding it.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan interface{}
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan interface{}, sendBuffer),
	}
}

// enqueue hands a message to the write pump without blocking. A false
// return means the client's buffer is full and it should be dropped.
func (c *Client) enqueue(message interface{}) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// readPump drains the connection so control frames are processed and a
// closed peer is noticed. Clients never send data messages, anything
// read is discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection: queued queue/progress
// payloads plus keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.unregister <- c
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
