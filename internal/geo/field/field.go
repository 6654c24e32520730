package field

import "math"

// Field is a fixed-size 2D scalar grid (row-major float64).
// The evolution driver is the only writer during a run; other subsystems
// get read-only access by convention.
type Field struct {
	w, h int
	v    []float64
}

func New(w, h int) *Field {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return &Field{w: w, h: h, v: make([]float64, w*h)}
}

func FromValues(w, h int, v []float64) *Field {
	f := New(w, h)
	copy(f.v, v)
	for i, x := range f.v {
		if !isFinite(x) {
			f.v[i] = 0
		}
	}
	return f
}

func (f *Field) Width() int  { return f.w }
func (f *Field) Height() int { return f.h }
func (f *Field) Len() int    { return len(f.v) }

func (f *Field) InBounds(x, y int) bool {
	return x >= 0 && x < f.w && y >= 0 && y < f.h
}

func (f *Field) At(x, y int) float64 {
	if !f.InBounds(x, y) {
		return 0
	}
	return f.v[y*f.w+x]
}

// Set writes v at (x,y). Out-of-bounds writes are ignored and a
// non-finite v leaves the previous value in place.
func (f *Field) Set(x, y int, v float64) {
	if !f.InBounds(x, y) {
		return
	}
	if !isFinite(v) {
		return
	}
	f.v[y*f.w+x] = v
}

// Add adds dv at (x,y) under the same guards as Set.
func (f *Field) Add(x, y int, dv float64) {
	if !f.InBounds(x, y) {
		return
	}
	i := y*f.w + x
	nv := f.v[i] + dv
	if !isFinite(nv) {
		return
	}
	f.v[i] = nv
}

// Values exposes the backing slice. Callers that mutate it must keep the
// finiteness invariant themselves.
func (f *Field) Values() []float64 { return f.v }

func (f *Field) Clone() *Field {
	c := New(f.w, f.h)
	copy(c.v, f.v)
	return c
}

func (f *Field) CopyFrom(src *Field) {
	if src == nil || src.w != f.w || src.h != f.h {
		return
	}
	copy(f.v, src.v)
}

// Sanitize replaces any non-finite cell with fallback and reports how many
// cells were repaired.
func (f *Field) Sanitize(fallback float64) int {
	n := 0
	for i, x := range f.v {
		if !isFinite(x) {
			f.v[i] = fallback
			n++
		}
	}
	return n
}

// DiffStats summarizes the per-cell absolute difference between two fields.
type DiffStats struct {
	Total   float64
	Average float64
	Max     float64
	Changed int // cells with |delta| > epsilon
}

const diffEpsilon = 1e-9

// Diff computes change statistics of f relative to old. Mismatched
// dimensions yield zero stats.
func (f *Field) Diff(old *Field) DiffStats {
	var s DiffStats
	if old == nil || old.w != f.w || old.h != f.h || len(f.v) == 0 {
		return s
	}
	for i := range f.v {
		d := math.Abs(f.v[i] - old.v[i])
		if !isFinite(d) {
			continue
		}
		s.Total += d
		if d > s.Max {
			s.Max = d
		}
		if d > diffEpsilon {
			s.Changed++
		}
	}
	s.Average = s.Total / float64(len(f.v))
	return s
}

// MinMax returns the smallest and largest cell values.
func (f *Field) MinMax() (lo, hi float64) {
	if len(f.v) == 0 {
		return 0, 0
	}
	lo, hi = f.v[0], f.v[0]
	for _, x := range f.v[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
