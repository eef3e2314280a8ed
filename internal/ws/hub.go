package ws

import (
	"encoding/json"
	"sync"
)

// studentKey scopes a student id to its tenant; ids are not unique across schools.
type studentKey struct {
	tenantID  uint
	studentID uint
}

// Client is one websocket connection of a student (or of staff watching a student).
type Client struct {
	TenantID  uint
	StudentID uint
	Send      chan []byte
	Hub       *Hub
	mu        sync.Mutex
	closed    bool
}

func NewClient(tenantID, studentID uint) *Client {
	return &Client{TenantID: tenantID, StudentID: studentID, Send: make(chan []byte, 64)}
}

func (c *Client) key() studentKey {
	return studentKey{tenantID: c.TenantID, studentID: c.StudentID}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.Hub != nil {
		c.Hub.unregister(c)
	}
	close(c.Send)
}

// Hub tracks open connections per tenant student and fans payment events out to them.
type Hub struct {
	mu        sync.RWMutex
	byStudent map[studentKey]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byStudent: make(map[studentKey]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Hub = h
	k := c.key()
	if h.byStudent[k] == nil {
		h.byStudent[k] = make(map[*Client]struct{})
	}
	h.byStudent[k][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := c.key()
	if m := h.byStudent[k]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byStudent, k)
		}
	}
}

// BroadcastToStudent sends payload as JSON to every connection watching the
// student of the tenant. Slow connections drop the message instead of blocking.
func (h *Hub) BroadcastToStudent(tenantID, studentID uint, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byStudent[studentKey{tenantID: tenantID, studentID: studentID}] {
		select {
		case c.Send <- data:
		default:
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.byStudent {
		n += len(m)
	}
	return n
}
