package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/metrics"
)

// EventAnomaly is the type of events carrying a streaming anomaly.
const EventAnomaly = "anomaly"

// StreamEvent is pushed to live-feed subscribers.
type StreamEvent struct {
	Type       string           `json:"type"`
	DetectorID string           `json:"detector_id,omitempty"`
	Metric     string           `json:"metric,omitempty"`
	Anomaly    *anomaly.Anomaly `json:"anomaly,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	clientSendSize = 64
)

var defaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// newUpgrader builds an upgrader that accepts the given origins. An empty
// list falls back to local development origins; "*" accepts any origin.
// Requests without an Origin header come from non-browser clients and are
// accepted.
func newUpgrader(allowed []string) *websocket.Upgrader {
	if len(allowed) == 0 {
		allowed = defaultAllowedOrigins
	}
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			_, ok := set[strings.ToLower(origin)]
			return ok
		},
	}
}

// hub fans streaming anomalies out to WebSocket subscribers.
type hub struct {
	upgrader *websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	id     string
	conn   *websocket.Conn
	metric string // empty subscribes to every metric
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newHub(allowedOrigins []string, logger *zap.Logger) *hub {
	return &hub{
		upgrader: newUpgrader(allowedOrigins),
		logger:   logger.Named("ws"),
		clients:  make(map[*wsClient]struct{}),
	}
}

// serveWS upgrades the request and subscribes the client. ?metric= limits
// the feed to one metric.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:     "ws-" + uuid.NewString()[:8],
		conn:   conn,
		metric: r.URL.Query().Get("metric"),
		send:   make(chan []byte, clientSendSize),
		done:   make(chan struct{}),
	}
	h.add(c)
	h.logger.Info("websocket client connected", zap.String("client_id", c.id), zap.String("metric", c.metric))

	go h.writePump(c)
	h.readPump(c)
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	metrics.WebSocketClients.Set(float64(n))
	c.close()
	h.logger.Info("websocket client disconnected", zap.String("client_id", c.id))
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump drains client frames so control messages are processed, and
// returns when the client goes away.
func (h *hub) readPump(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast queues ev for every matching client. Slow clients whose queue
// is full miss the event.
func (h *hub) broadcast(ev StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode stream event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.metric != "" && c.metric != ev.Metric {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("websocket client too slow; event dropped", zap.String("client_id", c.id))
		}
	}
}

// clientCount returns the number of connected subscribers.
func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		h.remove(c)
	}
}
