package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicehub-core/internal/plugin"
)

// Frame types on the event stream.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameAck         = "ack"
	FrameError       = "error"

	// AllEvents in a filter matches every event type.
	AllEvents = "*"

	// HubPluginName is the name the hub's forwarder is attached under.
	HubPluginName = "websocket"

	clientQueueSize     = 256
	defaultPingInterval = 30 * time.Second
)

// Frame is one message on the event stream, in either direction.
type Frame struct {
	Type   string        `json:"type"`
	ID     string        `json:"id,omitempty"`
	Event  *plugin.Event `json:"event,omitempty"`
	Filter *Filter       `json:"filter,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Filter selects events by type and device. An empty Devices list matches
// every device; an empty Events list matches every type of the listed
// devices.
type Filter struct {
	Events  []string `json:"events,omitempty"`
	Devices []string `json:"devices,omitempty"`
}

// Hub fans device lifecycle events out to WebSocket clients.
//
// The hub is fed by attaching Plugin() to the plugin manager. A client
// receives nothing until it subscribes.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	queue   chan []byte
	subject string

	mu      sync.Mutex
	events  map[string]struct{}
	devices map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware decides which origins may reach the API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an event hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Plugin returns the forwarder that feeds the hub.
func (h *Hub) Plugin() *plugin.EventForwarder {
	return plugin.NewEventForwarder(HubPluginName, h.Emit)
}

// Emit queues e for every client whose filter matches it. Slow clients lose
// events rather than stall the caller.
func (h *Hub) Emit(_ context.Context, e plugin.Event) error {
	data, err := json.Marshal(Frame{Type: FrameEvent, Event: &e})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered, dropped := 0, 0
	for c := range h.clients {
		if !c.wants(e) {
			continue
		}
		if c.enqueue(data) {
			delivered++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("event stream queue full", "event", e.Type, "device_id", e.DeviceID, "dropped", dropped)
	}
	if delivered > 0 {
		h.logger.Debug("event streamed", "event", e.Type, "device_id", e.DeviceID, "clients", delivered)
	}
	return nil
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("event stream client connected", "subject", c.subject, "clients", n)
}

// remove is safe to call more than once.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	h.dropLocked(c)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("event stream client disconnected", "subject", c.subject, "clients", n)
}

// dropLocked closes the client's queue exactly once. Emit holds the read
// lock while sending, so a queue is never closed under a sender.
func (h *Hub) dropLocked(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.queue)
	}
}

func newWSClient(h *Hub, conn *websocket.Conn, subject string) *wsClient {
	return &wsClient{
		hub:     h,
		conn:    conn,
		queue:   make(chan []byte, clientQueueSize),
		subject: subject,
		events:  make(map[string]struct{}),
		devices: make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the connection to an event stream. Auth, when
// enabled, has already run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestIDFrom(r.Context()))
		return
	}

	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is off
	c := newWSClient(s.hub, conn, subject)
	s.hub.add(c)

	ping := time.Duration(s.hub.cfg.PingInterval) * time.Second
	wait := time.Duration(s.hub.cfg.PongTimeout) * time.Second
	if ping <= 0 {
		ping = defaultPingInterval
	}
	go c.writeLoop(ping, wait)
	go c.readLoop(int64(s.hub.cfg.MaxMessageSize), ping+wait)
}

func (c *wsClient) readLoop(limit int64, idle time.Duration) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	_ = extend("") //nolint:errcheck // a dead connection fails the first read
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("event stream read failed", "error", err, "subject", c.subject)
			}
			return
		}
		_ = extend("") //nolint:errcheck // see above
		c.handleFrame(data)
	}
}

func (c *wsClient) writeLoop(ping, wait time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wait)) //nolint:errcheck // the write reports failure
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.queue:
			if !ok {
				_ = write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply(Frame{Type: FrameError, Error: "invalid JSON frame"})
		return
	}

	switch f.Type {
	case FramePing:
		c.reply(Frame{Type: FramePong, ID: f.ID})
	case FrameSubscribe, FrameUnsubscribe:
		if f.Filter == nil || (len(f.Filter.Events) == 0 && len(f.Filter.Devices) == 0) {
			c.reply(Frame{Type: FrameError, ID: f.ID, Error: f.Type + " needs a filter with events or devices"})
			return
		}
		current := c.apply(*f.Filter, f.Type == FrameSubscribe)
		c.reply(Frame{Type: FrameAck, ID: f.ID, Filter: &current})
	default:
		c.reply(Frame{Type: FrameError, ID: f.ID, Error: "unknown frame type: " + f.Type})
	}
}

// apply adds or removes filter entries and returns the resulting filter.
func (c *wsClient) apply(f Filter, add bool) Filter {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, set := range []struct {
		keys []string
		into map[string]struct{}
	}{{f.Events, c.events}, {f.Devices, c.devices}} {
		for _, k := range set.keys {
			if add {
				set.into[k] = struct{}{}
			} else {
				delete(set.into, k)
			}
		}
	}
	return Filter{Events: sortedKeys(c.events), Devices: sortedKeys(c.devices)}
}

func (c *wsClient) wants(e plugin.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) == 0 && len(c.devices) == 0 {
		return false
	}
	if len(c.devices) > 0 {
		if _, ok := c.devices[e.DeviceID]; !ok {
			return false
		}
	}
	if len(c.events) == 0 {
		return true
	}
	_, all := c.events[AllEvents]
	_, typed := c.events[e.Type]
	return all || typed
}

// enqueue reports false when the queue is full. Callers hold the hub's
// read lock.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

// reply sends a control frame. The hub lock keeps it from racing remove.
func (c *wsClient) reply(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.enqueue(data)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
