package sse

import (
	"context"
	"sync"
	"time"
)

// Message is one server-sent event.
type Message struct {
	Event string    `json:"event"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

// Hub manages SSE connections keyed by user. Sends never block: a client
// whose buffer is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[chan Message]struct{}
	buffer  int
}

// NewHub creates a hub whose client channels hold buffer messages
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{clients: make(map[string]map[chan Message]struct{}), buffer: buffer}
}

// Subscribe registers a client for userID's pushes and all broadcasts. The
// channel is closed once ctx is done.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan Message {
	ch := make(chan Message, h.buffer)

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[chan Message]struct{})
	}
	h.clients[userID][ch] = struct{}{}
	h.mu.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		h.remove(userID, ch)
	}()

	return ch
}

// PushToUser sends to every connection of userID. It reports how many
// connections accepted the message.
func (h *Hub) PushToUser(userID, event string, data any) int {
	msg := Message{Event: event, Data: data, At: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.send(h.clients[userID], msg)
}

// Broadcast sends to every connected client.
func (h *Hub) Broadcast(event string, data any) int {
	msg := Message{Event: event, Data: data, At: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, conns := range h.clients {
		delivered += h.send(conns, msg)
	}
	return delivered
}

// send must run under at least the read lock so remove cannot close a
// channel mid-send.
func (h *Hub) send(conns map[chan Message]struct{}, msg Message) int {
	delivered := 0
	for ch := range conns {
		select {
		case ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) remove(userID string, ch chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.clients[userID]
	if _, ok := conns[ch]; !ok {
		return
	}
	delete(conns, ch)
	close(ch)
	if len(conns) == 0 {
		delete(h.clients, userID)
	}
}

// ClientCount returns the number of open connections for userID
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
