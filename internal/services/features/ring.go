package features

import (
	"math"
	"sort"
)

// Ring is a fixed-capacity FIFO of float64 values. Pushing into a full ring
// evicts the oldest value, so memory stays bounded over arbitrarily long runs.
type Ring struct {
	buf  []float64
	head int
	size int
}

// NewRing allocates a ring holding at most capacity values.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

func (r *Ring) Cap() int   { return len(r.buf) }
func (r *Ring) Len() int   { return r.size }
func (r *Ring) Full() bool { return r.size == len(r.buf) }

// Push appends v and returns the evicted value, if any.
func (r *Ring) Push(v float64) (evicted float64, ok bool) {
	idx := (r.head + r.size) % len(r.buf)
	if r.Full() {
		evicted, ok = r.buf[r.head], true
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, ok
	}
	r.buf[idx] = v
	r.size++
	return 0, false
}

// At returns the i-th value, oldest first.
func (r *Ring) At(i int) float64 {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns the newest value.
func (r *Ring) Last() (float64, bool) {
	if r.size == 0 {
		return 0, false
	}
	return r.At(r.size - 1), true
}

// Values copies the contents, oldest first.
func (r *Ring) Values() []float64 {
	out := make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.At(i)
	}
	return out
}

func (r *Ring) Sum() float64 {
	s := 0.0
	for i := 0; i < r.size; i++ {
		s += r.At(i)
	}
	return s
}

func (r *Ring) Mean() float64 {
	if r.size == 0 {
		return 0
	}
	return r.Sum() / float64(r.size)
}

// Std is the sample standard deviation.
func (r *Ring) Std() float64 {
	if r.size < 2 {
		return 0
	}
	m := r.Mean()
	ss := 0.0
	for i := 0; i < r.size; i++ {
		d := r.At(i) - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(r.size-1))
}

func (r *Ring) Max() float64 {
	if r.size == 0 {
		return 0
	}
	m := r.At(0)
	for i := 1; i < r.size; i++ {
		m = math.Max(m, r.At(i))
	}
	return m
}

func (r *Ring) Min() float64 {
	if r.size == 0 {
		return 0
	}
	m := r.At(0)
	for i := 1; i < r.size; i++ {
		m = math.Min(m, r.At(i))
	}
	return m
}

func (r *Ring) Median() float64 {
	if r.size == 0 {
		return 0
	}
	v := r.Values()
	sort.Float64s(v)
	mid := len(v) / 2
	if len(v)%2 == 1 {
		return v[mid]
	}
	return (v[mid-1] + v[mid]) / 2
}
