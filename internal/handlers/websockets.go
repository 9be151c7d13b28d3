package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldsync/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMsgSize       = 1 << 12 // 4 KB
	defaultInterval  = 1 * time.Second
	maxInterval      = 10 * time.Second
	maxIntervalMilli = 10_000 // 10s in ms
	wsBuffer         = 32
)

// Message types pushed to WebSocket clients.
const (
	msgDashboard    = "dashboard"
	msgReading      = "reading"
	msgConnectivity = "connectivity"
)

// Envelope used for WebSocket messages.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Upgrader for HTTP -> WebSocket. Dashboards are served from other origins.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *Handler) wsConnect(c *gin.Context) {
	topic := models.Topic(strings.TrimSpace(c.Query("topic")))
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errTopicRequired})
		return
	}
	interval := h.parseInterval(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorw("ws_upgrade_failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Configure read limits and pong handler to extend read deadline.
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Reader goroutine to handle control frames and detect disconnects.
	done := make(chan struct{})
	go h.startReader(conn, done)

	// Live feeds: readings replay the latest one first; transitions are filtered to this topic.
	transitions, stopTransitions := h.services.Transitions(wsBuffer)
	defer stopTransitions()
	readings, handle := h.services.SubscribeChan(topic, wsBuffer)
	defer h.services.Unsubscribe(handle)

	// Prepare periodic writers: dashboard updates and pings.
	ticker := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	// Send initial dashboard immediately.
	if err := h.sendDashboard(conn, topic); err != nil {
		h.log.Infow("ws_write_failed_initial", "topic", topic, "err", err)
		return
	}

	// Writer/select loop.
	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Infow("ws_ping_failed", "err", err)
				return
			}
		case r, ok := <-readings:
			if !ok {
				h.log.Infow("ws_topic_closed", "topic", topic)
				return
			}
			if err := h.send(conn, wsEnvelope{Type: msgReading, Data: r}); err != nil {
				h.log.Infow("ws_write_failed", "err", err)
				return
			}
		case tr, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if tr.Topic != topic {
				continue
			}
			if err := h.send(conn, wsEnvelope{Type: msgConnectivity, Data: tr}); err != nil {
				h.log.Infow("ws_write_failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := h.sendDashboard(conn, topic); err != nil {
				h.log.Infow("ws_write_failed", "err", err)
				return
			}
		}
	}
}

// Helper: parseInterval reads ?interval=2s or ?interval_ms=2000 with bounds.
func (h *Handler) parseInterval(c *gin.Context) time.Duration {
	interval := defaultInterval

	if s := c.Query("interval"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 && d <= maxInterval {
			return d
		}
	}

	if ms := c.Query("interval_ms"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 && v <= maxIntervalMilli {
			return time.Duration(v) * time.Millisecond
		}
	}

	return interval
}

// Helper: startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.log.Debugw("ws_read_closed", "err", err)
			return
		}
	}
}

// Helper: sendDashboard writes the topic's current dashboard.
func (h *Handler) sendDashboard(conn *websocket.Conn, topic models.Topic) error {
	return h.send(conn, wsEnvelope{Type: msgDashboard, Data: h.services.Dashboard(topic)})
}

// Helper: send writes one envelope with a write deadline.
func (h *Handler) send(conn *websocket.Conn, env wsEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}
