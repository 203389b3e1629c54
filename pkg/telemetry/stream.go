package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gwillem/rzpanel/pkg/stage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Stream pushes the snapshot to websocket clients on every change.
type Stream struct {
	snap     *Snapshot
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uint64]*wsClient
	nextID  uint64
	closed  bool
	wg      sync.WaitGroup
}

// NewStream creates a websocket stream of snap.
func NewStream(snap *Snapshot, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		snap:    snap,
		logger:  logger,
		clients: make(map[uint64]*wsClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsClient is one websocket connection. send holds at most the newest
// payload.
type wsClient struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) offer(msg []byte) {
	select {
	case c.send <- msg:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Clients returns the number of connected clients.
func (h *Stream) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Stream) OnStateChange(axis stage.Axis, s stage.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	msg, err := json.Marshal(h.snap.Values())
	if err != nil {
		return
	}
	for _, c := range h.clients {
		c.offer(msg)
	}
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (h *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.nextID++
	c := &wsClient{id: h.nextID, conn: conn, send: make(chan []byte, 1), done: make(chan struct{})}
	h.clients[c.id] = c
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	h.logger.Debug("websocket client connected", zap.Uint64("client", c.id), zap.String("remote", r.RemoteAddr))
	if msg, err := json.Marshal(h.snap.Values()); err == nil {
		c.offer(msg)
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Stream) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", zap.Uint64("client", c.id))
}

// readPump discards client messages and notices disconnects.
func (h *Stream) readPump(c *wsClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Stream) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close disconnects every client and waits for their handlers to return.
func (h *Stream) Close() {
	h.mu.Lock()
	h.closed = true
	for _, c := range h.clients {
		c.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
