package position

import "time"

// HistoryEntry is one point of the walked path.
type HistoryEntry struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a fixed capacity ring buffer that evicts the oldest entry.
type History struct {
	buf   []HistoryEntry
	start int
	count int
}

// NewHistory creates a ring buffer holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]HistoryEntry, capacity)}
}

// Add appends a point, evicting the oldest one when full.
func (h *History) Add(x, y float64, ts time.Time) {
	idx := (h.start + h.count) % len(h.buf)
	h.buf[idx] = HistoryEntry{X: x, Y: y, Timestamp: ts}
	if h.count < len(h.buf) {
		h.count++
		return
	}
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of stored entries.
func (h *History) Len() int { return h.count }

// Entries returns the stored points, oldest first.
func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Clear removes every entry.
func (h *History) Clear() {
	h.start = 0
	h.count = 0
}
