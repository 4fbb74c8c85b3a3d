package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Publisher = (*Hub)(nil)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// client is a single websocket subscriber managed by a Hub.
type client struct {
	user string // empty means every user
	send chan []byte

	// Set by Run before send is closed.
	closeCode   websocket.StatusCode
	closeReason string
}

// drop removes c from the hub and closes its send channel with the given
// close status. Only called from Run.
func (h *Hub) drop(c *client, code websocket.StatusCode, reason string) {
	c.closeCode, c.closeReason = code, reason
	delete(h.clients, c)
	close(c.send)
}

type message struct {
	user string
	data []byte
}

// Hub manages a set of websocket clients and broadcasts trade events to
// them. Clients that fall behind are disconnected.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      atomic.Int32
	log        *slog.Logger
}

// NewHub creates a new Hub with initialised channels and client map.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan message),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the Hub's event loop. It returns when ctx is cancelled, after
// closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		h.count.Store(int32(len(h.clients)))
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c, websocket.StatusGoingAway, "server shutting down")
			}
			return
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c, websocket.StatusNormalClosure, "")
			}
		case m := <-h.broadcast:
			for c := range h.clients {
				if c.user != "" && c.user != m.user {
					continue
				}
				select {
				case c.send <- m.data:
				default:
					h.drop(c, websocket.StatusPolicyViolation, "subscriber too slow")
				}
			}
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

// Publish broadcasts ev to the subscribed clients.
func (h *Hub) Publish(ctx context.Context, ev domain.TradeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding trade event: %w", err)
	}
	select {
	case h.broadcast <- message{user: ev.Record.UserID, data: data}:
		return nil
	case <-h.done:
		return fmt.Errorf("hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the connection to a websocket and streams trade events
// until the client disconnects. The optional "user" query parameter limits
// the stream to one user's trades.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	c := &client{user: r.URL.Query().Get("user"), send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	// Subscribers never send; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				conn.Close(c.closeCode, c.closeReason)
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.unsubscribe(c)
				return
			}
		case <-ctx.Done():
			h.unsubscribe(c)
			return
		}
	}
}

func (h *Hub) unsubscribe(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
