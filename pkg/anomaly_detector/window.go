package anomaly_detector

// scoreWindow is a fixed-capacity ring buffer of the most recent raw scores.
//
// When full, Push overwrites the oldest entry. Not safe for concurrent use;
// it is owned by a single Detector.
type scoreWindow struct {
	buffer []float64
	head   int // index of the oldest item
	size   int
}

func newScoreWindow(capacity int) *scoreWindow {
	return &scoreWindow{buffer: make([]float64, capacity)}
}

// Push appends v, dropping the oldest score once the window is full.
func (w *scoreWindow) Push(v float64) {
	capacity := len(w.buffer)
	if w.size < capacity {
		w.buffer[(w.head+w.size)%capacity] = v
		w.size++
		return
	}
	w.buffer[w.head] = v
	w.head = (w.head + 1) % capacity
}

// Max returns the largest score in the window, 0 when empty.
func (w *scoreWindow) Max() float64 {
	m := 0.0
	for i := 0; i < w.size; i++ {
		if v := w.buffer[(w.head+i)%len(w.buffer)]; i == 0 || v > m {
			m = v
		}
	}
	return m
}

func (w *scoreWindow) Size() int     { return w.size }
func (w *scoreWindow) Capacity() int { return len(w.buffer) }

// Items returns the window oldest first.
func (w *scoreWindow) Items() []float64 {
	out := make([]float64, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.buffer[(w.head+i)%len(w.buffer)])
	}
	return out
}
