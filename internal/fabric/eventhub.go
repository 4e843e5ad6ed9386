package fabric

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zhtd/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType labels a mesh event mirrored onto the websocket tap. These
// mirror the wire verbs of the publish fabric; an event's Data carries
// only the key or node identity it concerns, not the full wire frames.
type EventType string

const (
	EventUpdate    EventType = "update"
	EventPeer      EventType = "peer"
	EventHeartbeat EventType = "heartbeat"
)

// Event is one mirrored occurrence, broadcast to every subscribed client.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// subscription is a client's subscribe/unsubscribe request.
type subscription struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// EventHub fans out mesh events to websocket clients for live tailing.
// This is purely observational: nothing in the reply/publish/control
// fabric depends on a client being connected, or on the hub ever running.
type EventHub struct {
	clients    map[*eventClient]bool
	broadcast  chan *Event
	register   chan *eventClient
	unregister chan *eventClient
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewEventHub builds a hub. Call Run in its own goroutine to start it.
func NewEventHub(log *logging.Logger) *EventHub {
	return &EventHub{
		clients:    make(map[*eventClient]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		log:        log.Component("eventhub"),
	}
}

// Run drives the hub's event loop until stop is closed.
func (h *EventHub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *EventHub) deliver(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal event failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.mu.RLock()
		subscribed := client.subscriptions[event.Type] || len(client.subscriptions) == 0
		client.mu.RUnlock()
		if !subscribed {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.log.Warn("client send buffer full, dropping", "type", event.Type)
		}
	}
}

// Broadcast mirrors one mesh occurrence to every subscribed client. It
// never blocks: a full hub drops the event rather than stall the caller,
// which is always a live reply/publish/control handler.
func (h *EventHub) Broadcast(eventType EventType, data interface{}) {
	event := &Event{Type: eventType, Data: data, Timestamp: time.Now().Unix()}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("broadcast channel full, dropping event", "type", eventType)
	}
}

// ServeHTTP upgrades r into a websocket client of the hub. Mount it under
// a path such as /events on whatever HTTP server the node exposes.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &eventClient{
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[EventType]bool),
		hub:           h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

type eventClient struct {
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[EventType]bool
	mu            sync.RWMutex
	hub           *EventHub
}

func (c *eventClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", "error", err)
			}
			break
		}
		var sub subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.applySubscription(&sub)
		}
	}
}

func (c *eventClient) writePump() {
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

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
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

func (c *eventClient) applySubscription(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, eventStr := range sub.Events {
		eventType := EventType(eventStr)
		switch sub.Action {
		case "subscribe":
			c.subscriptions[eventType] = true
		case "unsubscribe":
			delete(c.subscriptions, eventType)
		}
	}
}
