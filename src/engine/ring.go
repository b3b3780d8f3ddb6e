// Package engine is the per-call turn-taking core. It owns the FSM, the
// barge-in decision, the half-duplex gate, and the bridging of carrier audio
// to the provider and provider audio to the paced carrier queue.
package engine

// preRollRing keeps the most recent inbound mu-law frames while the mic gate
// is closed. On a confirmed barge-in the buffered frames are forwarded ahead
// of the live audio so the first syllable of the interruption is not lost.
type preRollRing struct {
	frames [][]byte
	next   int
	filled int
}

func newPreRollRing(capacity int) *preRollRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &preRollRing{frames: make([][]byte, capacity)}
}

// Push stores a copy of the frame, evicting the oldest when full.
func (r *preRollRing) Push(frame []byte) {
	r.frames[r.next] = append([]byte(nil), frame...)
	r.next = (r.next + 1) % len(r.frames)
	if r.filled < len(r.frames) {
		r.filled++
	}
}

// Drain returns the buffered frames oldest-first and empties the ring.
func (r *preRollRing) Drain() [][]byte {
	out := make([][]byte, 0, r.filled)
	start := r.next - r.filled
	if start < 0 {
		start += len(r.frames)
	}
	for i := 0; i < r.filled; i++ {
		out = append(out, r.frames[(start+i)%len(r.frames)])
	}
	r.filled = 0
	r.next = 0
	return out
}

// Len returns the number of buffered frames.
func (r *preRollRing) Len() int { return r.filled }
