package mailbox

import (
	"errors"
	"sync"

	"agent_relay/internal/domain"
)

var (
	ErrNoMailbox   = errors.New("no mailbox open for recipient")
	ErrMailboxFull = errors.New("recipient mailbox is full")
)

type Hub struct {
	mu       sync.RWMutex
	boxes    map[string]chan domain.Message
	capacity int
}

func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 64
	}
	return &Hub{boxes: make(map[string]chan domain.Message), capacity: capacity}
}

func (h *Hub) Open(name string) <-chan domain.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.boxes[name]; ok {
		close(old)
	}
	ch := make(chan domain.Message, h.capacity)
	h.boxes[name] = ch
	return ch
}

func (h *Hub) Close(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.boxes[name]
	if !ok {
		return
	}
	delete(h.boxes, name)
	close(ch)
}

// The read lock stays held across the send so Close cannot close a
// mailbox mid-send; the send itself never blocks.
func (h *Hub) Deliver(msg domain.Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.boxes[msg.Recipient]
	if !ok {
		return ErrNoMailbox
	}
	select {
	case ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}
