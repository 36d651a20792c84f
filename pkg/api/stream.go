package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/james-see/blendmidi/pkg/telemetry"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

// BlockJSON is one decoded block as sent on the event stream
type BlockJSON struct {
	Port       int             `json:"port"`
	Events     []EventJSON     `json:"events"`
	Conditions []ConditionJSON `json:"conditions,omitempty"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans decoded blocks out to websocket clients. Publish never blocks;
// a client whose buffer is full misses the block.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger, metrics *telemetry.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		metrics: metrics,
		clients: make(map[*streamClient]struct{}),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends a decoded block to every client. Its signature matches
// engine.EventHandler.
func (h *Hub) Publish(port int, res codec.Result) {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n == 0 {
		return
	}

	block := BlockJSON{Port: port, Events: []EventJSON{}}
	for ch := uint8(1); ch <= codec.NumChannels; ch++ {
		for _, ev := range res.Events.For(ch) {
			block.Events = append(block.Events, eventJSON(ev))
		}
	}
	for _, c := range res.Conditions {
		block.Conditions = append(block.Conditions, ConditionJSON{Kind: c.Kind.String(), Index: c.Index, Frame: c.Frame.Hex()})
	}
	data, err := json.Marshal(block)
	if err != nil {
		h.logger.Error("unable to encode event block", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("stream client too slow, block dropped", "remote", c.conn.RemoteAddr().String())
		}
	}
}

// handleEvents godoc
// @Summary Live event stream
// @Description Upgrades to a websocket that receives one JSON message per decoded block
// @Tags stream
// @Success 101
// @Router /api/v1/events [get]
func (h *Hub) handleEvents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(count))
	}
	h.logger.Info("stream client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	go h.write(client)
	go h.read(client)
}

// read discards client messages and unregisters the client once the
// connection fails
func (h *Hub) read(c *streamClient) {
	defer h.remove(c)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) write(c *streamClient) {
	ping := time.NewTicker(readTimeout / 2)
	defer ping.Stop()
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(count))
	}
	h.logger.Info("stream client disconnected", "clients", count)
}
