package indicators

// window is a fixed-capacity ring of the most recent prices.
type window struct {
	buf   []float64
	next  int
	count int
}

func newWindow(size int) *window {
	return &window{buf: make([]float64, size)}
}

// push stores x and returns the value it evicted, if the ring was full.
func (w *window) push(x float64) (evicted float64, full bool) {
	if w.count == len(w.buf) {
		evicted, full = w.buf[w.next], true
	} else {
		w.count++
	}
	w.buf[w.next] = x
	w.next = (w.next + 1) % len(w.buf)
	return evicted, full
}

func (w *window) full() bool {
	return w.count == len(w.buf)
}

func (w *window) reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.next = 0
	w.count = 0
}
