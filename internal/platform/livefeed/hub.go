// Package livefeed pushes events to connected WebSocket clients. Each client
// is bound to exactly one topic when it connects (a hospital reference code);
// clients cannot change their subscription afterwards.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = (pongTimeout * 9) / 10
)

// Event is one message delivered to subscribers of Topic.
type Event struct {
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	ResourceID string          `json:"resource_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an event stamped with the current time.
func NewEvent(eventType, topic, resourceID string, data interface{}) (Event, error) {
	ev := Event{Type: eventType, Topic: topic, ResourceID: resourceID, Timestamp: time.Now().UTC()}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s event: %w", eventType, err)
		}
		ev.Data = b
	}
	return ev, nil
}

type client struct {
	id    string
	topic string
	send  chan []byte
}

// Hub tracks connected clients by topic.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger.With().Str("component", "livefeed").Logger(),
	}
}

func (h *Hub) register(topic string) *client {
	c := &client{id: uuid.NewString(), topic: topic, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*client]struct{})
	}
	h.clients[topic][c] = struct{}{}
	return c
}

// unregister removes c and closes its send channel. Safe to call twice.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[c.topic]
	if !ok {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.clients, c.topic)
	}
	close(c.send)
}

// Publish delivers event to every client on event.Topic. A client whose
// buffer is full misses the event; Publish never blocks on a slow reader.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[event.Topic] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Str("client_id", c.id).Str("topic", event.Topic).Msg("client buffer full, event dropped")
		}
	}
	return nil
}

// Subscribers returns the number of clients connected to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is decided by the bearer token and identity checks that run
	// before the upgrade, not by the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve upgrades the request and streams events for topic until the client
// disconnects. The caller authorizes topic.
func (h *Hub) Serve(c echo.Context, topic string) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	cl := h.register(topic)
	h.logger.Info().Str("client_id", cl.id).Str("topic", topic).Msg("live feed client connected")

	go h.writePump(cl, ws)
	h.readPump(cl, ws)
	return nil
}

// readPump discards inbound frames and keeps the read deadline alive; it
// returns once the connection closes.
func (h *Hub) readPump(cl *client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.unregister(cl)
		ws.Close()
		h.logger.Info().Str("client_id", cl.id).Msg("live feed client disconnected")
	}()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
