package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the UI is served from the same single-user host
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hello is the first frame a client receives: enough to draw the whole
// page before events start flowing.
type hello struct {
	Type     string          `json:"type"`
	ClientID string          `json:"client_id"`
	Status   session.Status  `json:"status"`
	Candles  []market.Candle `json:"candles"`
}

// Hub streams session events to WebSocket clients, one goroutine pair
// per connection.
type Hub struct {
	sess *session.Session
	log  *zap.Logger

	mu     sync.Mutex
	conns  map[string]*websocket.Conn
	closed bool
}

func NewHub(sess *session.Session, log *zap.Logger) *Hub {
	return &Hub{sess: sess, log: log, conns: make(map[string]*websocket.Conn)}
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
		delete(h.conns, id)
	}
}

func (h *Hub) add(id string, c *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[id] = c
	return true
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// HandleWS upgrades the request and pumps events until the client goes
// away or the hub is closed.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws: upgrade failed", zap.Error(err))
		return
	}
	id := uuid.NewString()
	if !h.add(id, conn) {
		_ = conn.Close()
		return
	}
	defer func() {
		h.remove(id)
		_ = conn.Close()
	}()
	log := h.log.With(zap.String("client", id))
	log.Info("ws: client connected")

	events, unsubscribe := h.sess.Subscribe(sendBufferSize)
	defer unsubscribe()

	done := make(chan struct{})
	go readPump(conn, done)

	first := hello{Type: "hello", ClientID: id, Status: h.sess.Status(), Candles: h.sess.Candles()}
	if first.Candles == nil {
		first.Candles = []market.Candle{}
	}
	if err := writeFrame(conn, first); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Info("ws: client disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeFrame(conn, ev); err != nil {
				log.Debug("ws: write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// readPump drains client frames so control messages are processed, and
// closes done when the connection fails.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
