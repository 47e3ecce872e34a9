package backend

// Window is a fixed-capacity ring buffer of request outcomes. Once full, each
// Append evicts the oldest entry. Success and failure counts are maintained
// alongside the buffer so reading them never rescans it.
//
// Window is not safe for concurrent use; Stats guards it.
type Window struct {
	buf       []bool
	pos       int
	count     int
	successes int
}

// NewWindow creates a window holding at most size outcomes.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{buf: make([]bool, size)}
}

// Append records an outcome, evicting the oldest one when the window is full.
func (w *Window) Append(success bool) {
	if w.count == len(w.buf) {
		if w.buf[w.pos] {
			w.successes--
		}
	} else {
		w.count++
	}

	w.buf[w.pos] = success
	if success {
		w.successes++
	}

	w.pos = (w.pos + 1) % len(w.buf)
}

// Successes returns the number of successful outcomes currently in the window.
func (w *Window) Successes() int {
	return w.successes
}

// Failures returns the number of failed outcomes currently in the window.
func (w *Window) Failures() int {
	return w.count - w.successes
}

// Len returns the number of outcomes currently held.
func (w *Window) Len() int {
	return w.count
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.buf)
}

// Outcomes returns the held outcomes, oldest first.
func (w *Window) Outcomes() []bool {
	out := make([]bool, 0, w.count)
	start := w.pos - w.count
	if start < 0 {
		start += len(w.buf)
	}
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}
