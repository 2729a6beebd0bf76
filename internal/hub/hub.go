// Package hub is the WebSocket fan-out (§4.6). It generalizes the
// teacher's single global broadcast hub (internal/server/hub.go) into a
// per-tenant registry of connections, each carrying its own subscription
// filter and a bounded FIFO outbox; a slow consumer is disconnected
// rather than allowed to block ingest.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hiveboard/server/internal/ingest"
	"github.com/hiveboard/server/internal/model"
)

// OutboxSize bounds each connection's pending-message queue (§4.6's
// "concurrency model": dispatch never blocks on a slow consumer).
const OutboxSize = 256

const (
	pingInterval   = 30 * time.Second
	pongWait       = maxMissedPongs*pingInterval + 10*time.Second
	maxMissedPongs = 3
)

// MessageType is the discriminator on every message sent to a client (§4.6).
type MessageType string

const (
	MsgEventNew           MessageType = "event.new"
	MsgAgentStatusChanged MessageType = "agent.status_changed"
	MsgAgentStuck         MessageType = "agent.stuck"
)

// Message is the envelope written to every connection.
type Message struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}

// Filter narrows which events/status-changes a connection wants to see
// (§4.6's subscribe `filters` object). Zero-value fields mean "no filter"
// on that dimension.
type Filter struct {
	ProjectID   string            `json:"project_id,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Group       string            `json:"group,omitempty"`
	AgentID     string            `json:"agent_id,omitempty"`
	EventTypes  []model.EventType `json:"event_types,omitempty"`
	MinSeverity model.Severity    `json:"min_severity,omitempty"`
}

func (f Filter) matches(e *model.Event) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.Environment != "" && e.Environment != f.Environment {
		return false
	}
	if f.Group != "" && e.Group != f.Group {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinSeverity != "" && severityRank(e.Severity) < severityRank(f.MinSeverity) {
		return false
	}
	return true
}

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityDebug:
		return 0
	case model.SeverityInfo:
		return 1
	case model.SeverityWarn:
		return 2
	case model.SeverityError:
		return 3
	default:
		return 1
	}
}

func (f Filter) matchesAgent(agentID string) bool {
	return f.AgentID == "" || f.AgentID == agentID
}

// Client is one subscribed WebSocket connection.
type Client struct {
	hub      *Hub
	tenantID string
	conn     *websocket.Conn
	send     chan []byte

	mu     sync.Mutex
	filter Filter
}

// SetFilter updates the subscription predicate (client sends a
// {"action":"subscribe", "filters": {...}} control message).
func (c *Client) SetFilter(f Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = f
}

func (c *Client) currentFilter() Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Hub fans out events to per-tenant subscriber sets. It implements
// ingest.Broadcaster.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	logger *log.Logger
}

var _ ingest.Broadcaster = (*Hub)(nil)

// New builds a Hub. Run must be started in its own goroutine.
func New(logger *log.Logger) *Hub {
	return &Hub{
		tenants:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run drives the registration loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.tenants[c.tenantID]
			if !ok {
				set = make(map[*Client]bool)
				h.tenants[c.tenantID] = set
			}
			set[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.tenants[c.tenantID]; ok {
				if _, present := set[c]; present {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.tenants, c.tenantID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Accept registers an already-upgraded connection and starts its pumps; it blocks until the
// connection closes, so callers should invoke it from the request goroutine.
func (h *Hub) Accept(conn *websocket.Conn, tenantID string) {
	c := &Client{hub: h, tenantID: tenantID, conn: conn, send: make(chan []byte, OutboxSize)}
	h.register <- c

	done := make(chan struct{})
	go c.writePump(done)
	c.readPump()
	<-done
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ctrl struct {
			Action  string   `json:"action"`
			Channels []string `json:"channels"`
			Filters Filter   `json:"filters"`
		}
		if json.Unmarshal(data, &ctrl) != nil {
			continue
		}
		switch ctrl.Action {
		case "subscribe":
			// A new subscribe replaces the prior filter entirely (§4.6).
			c.SetFilter(ctrl.Filters)
			c.writeControl(Message{Type: "subscribed"})
		case "unsubscribe":
			c.SetFilter(Filter{})
		case "ping":
			c.writeControl(Message{Type: "pong", Data: map[string]interface{}{"server_time": time.Now().UTC()}})
		}
	}
}

func (c *Client) writeControl(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(done)
	}()

	missed := 0
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				missed++
			}
			if missed >= maxMissedPongs {
				return
			}
		}
	}
}

// dispatch delivers payload to every matching client in a tenant's set,
// dropping (and disconnecting) any connection whose outbox is full —
// broadcast must never block ingest (§4.2 stage 11).
func (h *Hub) dispatch(tenantID string, match func(*Client) bool, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	set := h.tenants[tenantID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.unregister <- c
		}
	}
}

// BroadcastEvents implements ingest.Broadcaster (§4.2 stage 11, §4.6).
func (h *Hub) BroadcastEvents(tenantID string, events []*model.Event, statusChanges []ingest.AgentStatusChange) {
	for _, e := range events {
		ev := e
		h.dispatch(tenantID, func(c *Client) bool { return c.currentFilter().matches(ev) }, Message{Type: MsgEventNew, Data: ev})
	}
	for _, sc := range statusChanges {
		change := sc
		msgType := MsgAgentStatusChanged
		if change.Current == model.StatusStuck {
			msgType = MsgAgentStuck
		}
		data := map[string]interface{}{
			"agent_id":              change.AgentID,
			"previous_status":       change.Previous,
			"new_status":            change.Current,
			"timestamp":             change.Timestamp,
			"heartbeat_age_seconds": change.HeartbeatAgeSeconds,
		}
		if change.CurrentTaskID != "" {
			data["current_task_id"] = change.CurrentTaskID
		}
		h.dispatch(tenantID, func(c *Client) bool { return c.currentFilter().matchesAgent(change.AgentID) }, Message{
			Type: msgType,
			Data: data,
		})
	}
}
