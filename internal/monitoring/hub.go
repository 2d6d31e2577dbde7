package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aptiscout/aptiscout/internal/common"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamMessage is the envelope pushed to every connected /monitoring/stream
// client: one of "event", "metric_snapshot", "alert_transition", or
// "missed_events".
type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// subscribeRequest is the client's initial message selecting which topics to
// receive and, optionally, resuming from a prior sequence.
type subscribeRequest struct {
	Topics       []string `json:"topics"`
	FromSequence int64    `json:"from_sequence"`
}

// StreamHub serves the live monitoring WebSocket: register/unregister/broadcast
// channels, non-blocking sends that drop messages for a slow client, ping/pong keepalive, multiplexing
// the event bus, metric snapshots, and alert transitions to every subscriber.
type StreamHub struct {
	bus        *EventBus
	registry   *Registry
	clients    map[*streamClient]bool
	register   chan *streamClient
	unregister chan *streamClient
	done       chan struct{}
	mu         sync.RWMutex
	logger     *common.Logger
}

type streamClient struct {
	hub    *StreamHub
	conn   *websocket.Conn
	send   chan []byte
	sub    *Subscriber
	topics map[string]bool
}

// NewStreamHub builds a StreamHub backed by the event bus and metric registry.
func NewStreamHub(bus *EventBus, registry *Registry, logger *common.Logger) *StreamHub {
	return &StreamHub{
		bus:        bus,
		registry:   registry,
		clients:    make(map[*streamClient]bool),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's registration loop and the coalesced metric-snapshot
// broadcaster (at most once per second). Call as a goroutine.
func (h *StreamHub) Run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
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
		case <-ticker.C:
			h.broadcastSnapshot()
		}
	}
}

// Stop signals the hub to exit.
func (h *StreamHub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *StreamHub) broadcastSnapshot() {
	snapshot := h.registry.Snapshot()
	if len(snapshot) == 0 {
		return
	}
	data, err := json.Marshal(streamMessage{Type: "metric_snapshot", Data: snapshot})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants("metric_snapshot") {
			continue
		}
		select {
		case c.send <- data:
		default:
			if h.logger != nil {
				h.logger.Warn().Msg("monitoring stream client lagging on metric snapshot, dropped")
			}
		}
	}
}

// ServeWS upgrades the HTTP connection, reads the client's subscribe request,
// and begins streaming bus events filtered to the requested topics.
func (h *StreamHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn().Err(err).Msg("monitoring stream upgrade failed")
		}
		return
	}

	var req subscribeRequest
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&req); err != nil {
		// No subscribe message yet: stream every topic from the current tip.
		req = subscribeRequest{Topics: []string{"event", "metric_snapshot", "alert_transition"}}
	}
	conn.SetReadDeadline(time.Time{})

	topics := make(map[string]bool)
	if len(req.Topics) == 0 {
		topics["event"] = true
		topics["metric_snapshot"] = true
		topics["alert_transition"] = true
	}
	for _, t := range req.Topics {
		topics[t] = true
	}

	client := &streamClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		sub:    h.bus.Subscribe(req.FromSequence),
		topics: topics,
	}

	h.register <- client

	go client.writePump()
	go client.pumpBusEvents()
	client.readPump()
}

func (c *streamClient) wants(topic string) bool { return c.topics[topic] }

func (c *streamClient) pumpBusEvents() {
	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				return
			}
			if !c.wants("event") {
				continue
			}
			data, err := json.Marshal(streamMessage{Type: "event", Data: ev})
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			default:
			}
		case gap, ok := <-c.sub.Missed():
			if !ok {
				return
			}
			data, err := json.Marshal(streamMessage{Type: "missed_events", Data: map[string]int64{"from": gap[0], "to": gap[1]}})
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

func (c *streamClient) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.hub.bus.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// BroadcastAlertTransition pushes an alert state transition to subscribed
// clients immediately (not coalesced, unlike metric snapshots).
func (h *StreamHub) BroadcastAlertTransition(payload any) {
	data, err := json.Marshal(streamMessage{Type: "alert_transition", Data: payload})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants("alert_transition") {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of currently connected stream clients.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
