// Package push is the WebSocket broadcast hub named in §6: every
// normalized event is pushed to every connected client as JSON the
// moment it is emitted, with no per-client filtering. Grounded on the
// teacher's webevents.Publish fan-out shape (one Publish call reaches
// every registered client), transport swapped from
// alexandrevicenzi/go-sse to gorilla/websocket because §6 mandates a
// WebSocket endpoint rather than SSE (see DESIGN.md).
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dalelaibeyond/iot-middleware-pro/internal/pkg/infrastructure/bus"
	"github.com/dalelaibeyond/iot-middleware-pro/pkg/types"
)

// clientInboxSize bounds how far a slow client can lag; once its inbox
// is full, each new broadcast is dropped for that client, the same
// drop-on-full stance the bus itself uses for subscriber inboxes (§5).
const clientInboxSize = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out every event.normalized message to every connected
// WebSocket client.
type Hub struct {
	bus     *bus.Bus
	log     zerolog.Logger
	mu      sync.Mutex
	clients map[*client]struct{}
	done    chan struct{}
}

// New constructs a Hub bound to bus; call Run to start fanning out and
// HandleWS to register clients on a chi route.
func New(b *bus.Bus, log zerolog.Logger) *Hub {
	return &Hub{
		bus:     b,
		log:     log,
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// Run subscribes to event.normalized and broadcasts every event as JSON
// until ctx is cancelled. A malformed event (one that fails to marshal)
// is logged and skipped rather than tearing down any connection, per
// §7's "push stream omits malformed events rather than closing the
// connection".
func (h *Hub) Run(ctx context.Context) {
	events := h.bus.Subscribe(bus.TopicEventNormalized)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			ev, ok := msg.(types.NormalizedEvent)
			if !ok {
				h.log.Warn().Msg("push hub received non-NormalizedEvent message, skipping")
				continue
			}
			encoded, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn().Err(err).Msg("push hub failed to marshal event, skipping")
				continue
			}
			h.broadcast(encoded)
		}
	}
}

// Stop ends Run's loop without requiring the caller to hold onto the
// context it was started with.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.Debug().Msg("push client inbox full, dropping message")
		}
	}
}

// HandleWS upgrades the request to a WebSocket and registers the
// connection as a broadcast recipient until the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientInboxSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump drains and discards inbound frames only to detect
// disconnects; the push stream is one-directional (§6).
func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
	c.conn.Close()
}
