// Package livesurface is a preview surface backed by browser tabs. Every
// markup update is pushed over a websocket to each connected viewer, and
// a viewer that connects late is sent the current markup straight away.
package livesurface

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/sowing/internal/hostpage"
	"github.com/conneroisu/sowing/internal/logging"
)

// Message types pushed to viewers.
const (
	TypePreview = "preview"
	TypeAlert   = "alert"
)

// UpdateMessage is the JSON frame sent to viewers.
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	sendBuffer   = 16
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans markup out to connected viewers. It implements preview.Surface
// and attach.Alerter.
type Hub struct {
	logger         logging.Logger
	originPatterns []string

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[*client]struct{}
	current []byte

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// New starts a hub. originPatterns restricts which pages may connect, per
// websocket.AcceptOptions; empty allows same-origin only.
func New(logger logging.Logger, originPatterns ...string) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:         logger.WithComponent("livesurface"),
		originPatterns: originPatterns,
		register:       make(chan *client),
		unregister:     make(chan *client),
		broadcast:      make(chan []byte, 64),
		clients:        make(map[*client]struct{}),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go h.run()
	return h
}

// SetHTML pushes markup to every viewer and keeps it for late joiners.
func (h *Hub) SetHTML(html string) {
	h.publish(UpdateMessage{Type: TypePreview, Target: hostpage.PreviewID, Content: html}, true)
}

// Alert pushes a notice to every viewer.
func (h *Hub) Alert(message string) {
	h.publish(UpdateMessage{Type: TypeAlert, Content: message}, false)
}

func (h *Hub) publish(msg UpdateMessage, keep bool) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(h.ctx, err, "cannot encode update", "type", msg.Type)
		return
	}

	// Broadcasts are delivered in order after the joiner's snapshot, so the
	// last frame a viewer receives is always the newest markup.
	h.mu.Lock()
	if keep {
		h.current = data
	}
	h.mu.Unlock()

	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	}
}

// Current returns the markup last passed to SetHTML.
func (h *Hub) Current() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return ""
	}
	var msg UpdateMessage
	_ = json.Unmarshal(h.current, &msg)
	return msg.Content
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			current := h.current
			n := len(h.clients)
			h.mu.Unlock()
			if current != nil {
				c.send <- current
			}
			h.logger.Debug(h.ctx, "viewer connected", "clients", n)

		case c := <-h.unregister:
			h.drop(c)

		case data := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Slow viewer; it reconnects and gets the current markup.
					go func(c *client) {
						select {
						case h.unregister <- c:
						case <-h.ctx.Done():
						}
					}(c)
				}
			}
			h.mu.RUnlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug(h.ctx, "viewer disconnected", "clients", n)
	}
}

// HandleWebSocket upgrades r and streams updates until either side closes.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	// Viewers never send; CloseRead discards frames and reports the close.
	readCtx := conn.CloseRead(h.ctx)
	h.writePump(readCtx, c)

	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) writePump(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug(ctx, "websocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// Shutdown disconnects every viewer and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	var err error
	h.shutdownOnce.Do(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
