package track

import "drivenav/internal/model"

// fixRing is a fixed-capacity FIFO buffer of accepted fixes. Oldest entries
// are evicted first once at capacity.
type fixRing struct {
	buf   []model.LocationFix
	head  int // index of oldest entry
	count int
}

func newFixRing(capacity int) *fixRing {
	if capacity <= 0 {
		capacity = 50
	}
	return &fixRing{buf: make([]model.LocationFix, capacity)}
}

func (r *fixRing) push(fix model.LocationFix) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = fix
		r.count++
		return
	}
	r.buf[r.head] = fix
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot returns the buffered fixes oldest first.
func (r *fixRing) snapshot() []model.LocationFix {
	out := make([]model.LocationFix, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *fixRing) len() int { return r.count }

func (r *fixRing) latest() (model.LocationFix, bool) {
	if r.count == 0 {
		return model.LocationFix{}, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}
