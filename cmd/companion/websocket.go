// WebSocket push for ledger-change events (desktop shell only).
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kimhsiao/scriberr-companion/internal/logging"
	"github.com/kimhsiao/scriberr-companion/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only the local desktop shell connects here.
		host := r.Host
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return host == "localhost" || host == "127.0.0.1"
	},
}

// WSClient is one connected desktop shell.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans ledger events out to connected shells.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	log        *logrus.Entry
}

// WSEnvelope wraps every pushed message.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

const (
	EventRecordingAdded         = "recording.added"
	EventRecordingUpdated       = "recording.updated"
	EventRecordingDeletedRemote = "recording.deleted_remote"
	EventSyncCompleted          = "sync.completed"
)

// NewWSHub creates the hub and starts its dispatch loop.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		log:        logging.WithComponent("ws"),
	}
	go hub.run()
	return hub
}

func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client.id] = client
			h.log.WithField("client", client.id).Debug("shell connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.log.WithField("client", client.id).Debug("shell disconnected")

		case message := <-h.broadcast:
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, id)
				}
			}
		}
	}
}

// Broadcast pushes one event envelope to all connected shells.
func (h *WSHub) Broadcast(messageType string, data interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal event")
		return
	}
	h.broadcast <- bytes
}

// BridgeNotifier forwards ledger events to the hub and returns the
// unsubscribe function.
func BridgeNotifier(hub *WSHub, notifier *notify.Notifier) func() {
	return notifier.Subscribe(func(evt notify.Event) {
		switch evt.Type {
		case notify.EventRecordingAdded:
			hub.Broadcast(EventRecordingAdded, evt.Recording)
		case notify.EventRecordingUpdated:
			hub.Broadcast(EventRecordingUpdated, evt.Recording)
		case notify.EventRecordingDeletedRemote:
			hub.Broadcast(EventRecordingDeletedRemote, map[string]string{
				"remote_job_id": evt.RemoteJobID,
			})
		case notify.EventSyncCompleted:
			hub.Broadcast(EventSyncCompleted, map[string]string{"status": "completed"})
		}
	})
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Debug("read error")
			}
			break
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var clientSeq struct {
	mu sync.Mutex
	n  int
}

// HandleWebSocket upgrades /ws connections.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.WithError(err).Warn("websocket upgrade failed")
			return
		}

		clientSeq.mu.Lock()
		clientSeq.n++
		id := fmt.Sprintf("%d-%s", clientSeq.n, r.RemoteAddr)
		clientSeq.mu.Unlock()

		client := &WSClient{
			id:   id,
			conn: conn,
			send: make(chan []byte, 256),
			hub:  hub,
		}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
