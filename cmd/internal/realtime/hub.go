package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/puse45/auth-ms/cmd/internal/activation"
)

// Hub routes committed account events to the websocket sessions of that account.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.RWMutex
	clients map[string]map[string]*Client // account id -> session id -> client
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		clients: make(map[string]map[string]*Client),
	}
}

// Attach subscribes the hub to bus and returns the unsubscribe func.
func (h *Hub) Attach(bus *activation.Bus) func() {
	return bus.Subscribe(h.Publish)
}

func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.clients[c.AccountID]
	if !ok {
		m = make(map[string]*Client)
		h.clients[c.AccountID] = m
	}
	m[c.SessionID] = c
}

func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.clients[c.AccountID]
	if !ok {
		return
	}
	delete(m, c.SessionID)
	if len(m) == 0 {
		delete(h.clients, c.AccountID)
	}
}

// Count returns the number of sessions connected for accountID.
func (h *Hub) Count(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

// Publish runs on the bus goroutine and must not block: a client whose queue
// is full misses the event.
func (h *Hub) Publish(e activation.Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[e.AccountID]))
	for _, c := range h.clients[e.AccountID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	env := newEnvelope(TypeEvent, e, h.now())
	for _, c := range targets {
		if !c.offer(env) {
			h.log.Info("realtime.publish.drop", "session_id", c.SessionID, "event", e.Type)
		}
	}
}
