package admin

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"aquabridge/internal/types"
)

// AlertEvent is the message pushed to connected UI clients when an alert
// commits. Readers only ever observe alerts after the create transaction.
type AlertEvent struct {
	Type      string       `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Alert     *types.Alert `json:"alert"`
}

// AlertFeed broadcasts committed alerts over websocket connections.
type AlertFeed struct {
	mu          sync.RWMutex
	connections map[string]*feedConnection
	upgrader    websocket.Upgrader
	logger      *logrus.Entry
}

type feedConnection struct {
	id   string
	conn *websocket.Conn
	send chan AlertEvent
}

// NewAlertFeed creates an empty feed.
func NewAlertFeed(logger *logrus.Entry) *AlertFeed {
	return &AlertFeed{
		connections: make(map[string]*feedConnection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// Broadcast pushes an alert to every connected client. Slow clients are
// dropped rather than blocking the processor.
func (f *AlertFeed) Broadcast(alert *types.Alert) {
	event := AlertEvent{
		Type:      "alert_created",
		Timestamp: time.Now(),
		Alert:     alert,
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.connections {
		select {
		case c.send <- event:
		default:
			f.logger.WithField("connection_id", c.id).Warn("Dropping slow websocket client")
			go f.remove(c.id)
		}
	}
}

// HandleWS upgrades the request and registers the client.
func (f *AlertFeed) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &feedConnection{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan AlertEvent, 32),
	}

	f.mu.Lock()
	f.connections[c.id] = c
	f.mu.Unlock()

	f.logger.WithField("connection_id", c.id).Debug("Websocket client connected")

	go f.writePump(c)
	go f.readPump(c)
}

// Close disconnects all clients.
func (f *AlertFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.connections {
		close(c.send)
		c.conn.Close()
		delete(f.connections, id)
	}
}

func (f *AlertFeed) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.connections[id]; ok {
		close(c.send)
		c.conn.Close()
		delete(f.connections, id)
	}
}

func (f *AlertFeed) writePump(c *feedConnection) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(event); err != nil {
				f.remove(c.id)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(c.id)
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is one-way. It exists to
// notice disconnects promptly.
func (f *AlertFeed) readPump(c *feedConnection) {
	c.conn.SetReadLimit(1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			f.remove(c.id)
			return
		}
	}
}
