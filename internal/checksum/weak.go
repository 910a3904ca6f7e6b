// Package checksum provides the weak (rolling) and strong hash providers
// used to sign base blocks and match them in a target stream.
package checksum

// Weak computes an order-dependent checksum over a fixed-length window and
// can slide that window one byte in constant time.
type Weak interface {
	// ID is the stable identifier recorded in signatures and deltas.
	ID() string

	// Checksum computes the checksum of window from scratch.
	Checksum(window []byte) uint32

	// Roll slides an n-byte window by one byte: out leaves at the front,
	// in enters at the back.
	Roll(sum uint32, n int, out, in byte) uint32
}

// Window tracks the weak checksum of a window whose length is fixed when
// the window is created.
type Window struct {
	weak Weak
	n    int
	sum  uint32
}

// NewWindow starts a rolling window over the given bytes.
func NewWindow(weak Weak, window []byte) Window {
	return Window{
		weak: weak,
		n:    len(window),
		sum:  weak.Checksum(window),
	}
}

// Roll drops out from the front of the window and appends in.
func (w *Window) Roll(out, in byte) {
	w.sum = w.weak.Roll(w.sum, w.n, out, in)
}

// Sum returns the checksum of the current window.
func (w *Window) Sum() uint32 {
	return w.sum
}

// Len returns the window length.
func (w *Window) Len() int {
	return w.n
}
