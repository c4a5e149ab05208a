package ensemble

// History is a fixed-capacity ring buffer of recent error scalars. It is
// append-only; callers that share it with readers Clone before Push.
type History struct {
	buf   []float64
	start int
	size  int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]float64, capacity)}
}

func (h *History) Cap() int { return len(h.buf) }
func (h *History) Len() int { return h.size }

// Push appends v, evicting the oldest entry when full.
func (h *History) Push(v float64) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = v
		h.size++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns the entries oldest first in a fresh slice.
func (h *History) Snapshot() []float64 {
	out := make([]float64, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) Mean() (float64, bool) {
	if h.size == 0 {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < h.size; i++ {
		sum += h.buf[(h.start+i)%len(h.buf)]
	}
	return sum / float64(h.size), true
}

func (h *History) Clone() *History {
	return &History{buf: append([]float64(nil), h.buf...), start: h.start, size: h.size}
}
