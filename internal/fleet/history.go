package fleet

import (
	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/benmeehan/fleet-monitor/internal/models"
)

// History is a fixed-capacity ring of envelopes. Once full, each push
// overwrites the oldest entry.
type History struct {
	buf   []models.Envelope
	next  int
	limit int
}

// NewHistory creates a ring holding at most limit envelopes.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = constants.HistoryLimit
	}
	return &History{limit: limit}
}

// Push records env as the most recent entry.
func (h *History) Push(env models.Envelope) {
	if len(h.buf) < h.limit {
		h.buf = append(h.buf, env)
		return
	}
	h.buf[h.next] = env
	h.next = (h.next + 1) % h.limit
}

// Len returns the number of retained envelopes.
func (h *History) Len() int {
	return len(h.buf)
}

// Slice returns a copy of the history, most recent first.
func (h *History) Slice() []models.Envelope {
	n := len(h.buf)
	out := make([]models.Envelope, n)
	if n == 0 {
		return out
	}

	newest := n - 1
	if n == h.limit {
		newest = (h.next - 1 + n) % n
	}
	for i := 0; i < n; i++ {
		out[i] = h.buf[(newest-i+n)%n]
	}
	return out
}
