package indicator

// window is a fixed-size ring of the latest samples.
type window struct {
	values  []float64
	ordered []float64
	next    int
	count   int
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{
		values:  make([]float64, size),
		ordered: make([]float64, size),
	}
}

func (w *window) push(v float64) {
	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
	w.count++
}

func (w *window) full() bool {
	return w.count >= len(w.values)
}

// chronological returns the samples oldest first. The slice is reused by
// subsequent calls.
func (w *window) chronological() []float64 {
	if !w.full() {
		return w.values[:w.count]
	}
	n := copy(w.ordered, w.values[w.next:])
	copy(w.ordered[n:], w.values[:w.next])
	return w.ordered
}
