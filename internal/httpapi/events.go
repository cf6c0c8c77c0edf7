package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/core/ecs"
	"github.com/shijimago/shijima/internal/core/event"
)

// Message is one lifecycle notification on the events stream.
type Message struct {
	Type     string `json:"type"`
	ID       int64  `json:"id"`
	Template string `json:"template,omitempty"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Display  int    `json:"display,omitempty"`
	Migrated int    `json:"migrated,omitempty"`
}

const clientBuffer = 64

// Hub fans bus events out to websocket subscribers. Publishing happens on
// the tick goroutine and never blocks: a subscriber that falls behind loses
// messages.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[chan []byte]struct{}),
	}
}

// Attach subscribes the hub to lifecycle events on bus.
func (h *Hub) Attach(bus *event.Bus) {
	event.Subscribe(bus, func(ev event.EntitySpawned) {
		m := Message{Type: "spawned", ID: int64(ev.ID), Template: ev.Template}
		if ev.ParentID != ecs.NoEntity {
			p := int64(ev.ParentID)
			m.ParentID = &p
		}
		h.Publish(m)
	})
	event.Subscribe(bus, func(ev event.EntityReaped) {
		h.Publish(Message{Type: "reaped", ID: int64(ev.ID), Template: ev.Template, Reason: ev.Reason})
	})
	event.Subscribe(bus, func(ev event.DisplayAttached) {
		h.Publish(Message{Type: "display_attached", Display: ev.Display})
	})
	event.Subscribe(bus, func(ev event.DisplayDetached) {
		h.Publish(Message{Type: "display_detached", Display: ev.Display, Migrated: ev.Migrated})
	})
}

func (h *Hub) Publish(m Message) {
	b, err := json.Marshal(m)
	if err != nil {
		h.log.Error("event encode failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- b:
		default:
		}
	}
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) subscribe() (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan []byte, clientBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// ServeWS upgrades the request and streams messages until either side
// closes. Client frames are read and discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, ok := h.subscribe()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		return
	}
	defer h.unsubscribe(ch)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case b, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}
