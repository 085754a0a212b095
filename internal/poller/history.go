package poller

import (
	"sync"

	"fx-forward-runner/internal/types"
)

// History is a bounded ring of the most recent actionable signals.
type History struct {
	mu    sync.Mutex
	buf   []types.Signal
	start int
	size  int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 20
	}
	return &History{buf: make([]types.Signal, capacity)}
}

// Push appends sig, dropping the oldest entry when full.
func (h *History) Push(sig types.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = sig
		h.size++
		return
	}
	h.buf[h.start] = sig
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns the signals oldest first.
func (h *History) Snapshot() []types.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Signal, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start, h.size = 0, 0
}
