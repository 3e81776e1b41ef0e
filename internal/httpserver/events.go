package httpserver

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mirkodgzconsulting/phoebe-practice/internal/session"
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventHub pushes every session snapshot to the subscribed UI clients.
// Writes are serialized per connection; a failed write evicts the client.
type eventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[*websocket.Conn]*sync.Mutex)}
}

func (h *eventHub) broadcast(snap session.Snapshot) {
	h.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for c, wm := range h.clients {
		conns[c] = wm
	}
	h.mu.Unlock()

	for c, wm := range conns {
		wm.Lock()
		err := c.WriteJSON(snap)
		wm.Unlock()
		if err != nil {
			h.drop(c)
		}
	}
}

// serve upgrades the request, sends the current snapshot and keeps the
// connection registered until the client goes away.
func (h *eventHub) serve(w http.ResponseWriter, r *http.Request, current session.Snapshot) error {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	wm := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = wm
	h.mu.Unlock()

	wm.Lock()
	err = conn.WriteJSON(current)
	wm.Unlock()
	if err != nil {
		h.drop(conn)
		return nil
	}

	// discard inbound frames; the stream is one-way
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (h *eventHub) drop(c *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		_ = c.Close()
	}
	h.mu.Unlock()
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		_ = c.Close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
}
