package record

import "iter"

// Ring is a fixed-capacity history of float64 values. Once full, each
// Push overwrites the oldest entry.
type Ring struct {
	buf  []float64
	head int // next write position
	n    int
}

// NewRing returns an empty ring holding at most capacity values.
func NewRing(capacity int) Ring {
	if capacity < 1 {
		capacity = 1
	}
	return Ring{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (r *Ring) Push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// Len is the number of stored values.
func (r *Ring) Len() int { return r.n }

// Cap is the fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// At returns the ith newest value; At(0) is the most recent push.
func (r *Ring) At(i int) float64 {
	if i < 0 || i >= r.n {
		panic("record: ring index out of range")
	}
	return r.buf[(r.head-1-i+2*len(r.buf))%len(r.buf)]
}

// All yields stored values newest first.
func (r *Ring) All() iter.Seq[float64] {
	return func(yield func(float64) bool) {
		for i := 0; i < r.n; i++ {
			if !yield(r.At(i)) {
				return
			}
		}
	}
}

// Values copies the stored values, newest first.
func (r *Ring) Values() []float64 {
	out := make([]float64, 0, r.n)
	for v := range r.All() {
		out = append(out, v)
	}
	return out
}
