package preview

import (
	"sync"

	"github.com/local/printpreview/internal/render"
)

const eventBuffer = 64

// hub fans committed render events out to subscribers. A subscriber that
// falls behind misses events and is expected to re-read the board.
type hub struct {
	mu     sync.Mutex
	subs   map[chan render.Event]struct{}
	closed bool
}

func (h *hub) publish(ev render.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) subscribe() (<-chan render.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan render.Event, eventBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs == nil {
		h.subs = make(map[chan render.Event]struct{})
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

// Subscribe streams slot commits of every render pass until the returned
// cancel func is called or the session closes, which closes the channel.
func (s *Session) Subscribe() (<-chan render.Event, func(), error) {
	if err := s.lock(); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()
	ch, cancel := s.events.subscribe()
	return ch, cancel, nil
}
