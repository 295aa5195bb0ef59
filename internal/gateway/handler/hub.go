package handler

import (
	"sync"

	"tcmdiag/internal/diagnosis"
)

const subscriberBuffer = 8

// Hub fans persisted snapshots out to watchers of the same session.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan *diagnosis.State]struct{}
}

var _ diagnosis.Notifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan *diagnosis.State]struct{}{}}
}

// Subscribe registers a watcher for sessionID. The returned cancel func
// unregisters it and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan *diagnosis.State, func()) {
	ch := make(chan *diagnosis.State, subscriberBuffer)
	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = map[chan *diagnosis.State]struct{}{}
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish never blocks; a slow watcher loses its oldest pending snapshot.
func (h *Hub) Publish(s *diagnosis.State) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[s.SessionID] {
		push(ch, s)
	}
}

func push(ch chan *diagnosis.State, s *diagnosis.State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
