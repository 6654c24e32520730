package active

// Package active tracks which grid cells need recomputation each iteration
// and propagates activity to neighbors with damping, so the evolution loop
// can skip cells that have settled.

// ChangeKind labels why a cell was marked; kept for diagnostics only.
type ChangeKind int

const (
	ChangeTectonic ChangeKind = iota
	ChangeErosion
	ChangeDeposition
	ChangeWater
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeTectonic:
		return "tectonic"
	case ChangeErosion:
		return "erosion"
	case ChangeDeposition:
		return "deposition"
	default:
		return "water"
	}
}

// Config for the partitioner. Zero values fall back to defaults.
type Config struct {
	MinThreshold    float64 // magnitude below this is ignored
	PropagateRadius int     // Chebyshev radius of neighbor activation
}

const (
	defaultMinThreshold = 1e-6
	defaultRadius       = 2

	// Neighbors receive half the source magnitude and must still clear
	// one tenth of the base threshold to enter the next set.
	propagationDamping = 0.5
	propagationGate    = 0.1
)

// Partitioner holds the current and next active sets plus a per-cell
// change-magnitude buffer, all sized to the grid.
type Partitioner struct {
	w, h int
	cfg  Config

	active    []bool
	next      []bool
	magnitude []float64

	activeCount int
	nextCount   int
}

func New(w, h int, cfg Config) *Partitioner {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if cfg.MinThreshold <= 0 {
		cfg.MinThreshold = defaultMinThreshold
	}
	if cfg.PropagateRadius <= 0 {
		cfg.PropagateRadius = defaultRadius
	}
	n := w * h
	return &Partitioner{
		w: w, h: h, cfg: cfg,
		active:    make([]bool, n),
		next:      make([]bool, n),
		magnitude: make([]float64, n),
	}
}

func (p *Partitioner) Width() int  { return p.w }
func (p *Partitioner) Height() int { return p.h }

func (p *Partitioner) inBounds(x, y int) bool {
	return x >= 0 && x < p.w && y >= 0 && y < p.h
}

// MarkCellChanged activates (x,y) when magnitude clears the threshold and
// seeds damped activity into the Chebyshev neighborhood for the next
// iteration. Out-of-range marks are silently ignored.
func (p *Partitioner) MarkCellChanged(x, y int, magnitude float64, kind ChangeKind) {
	_ = kind
	if !p.inBounds(x, y) {
		return
	}
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude <= p.cfg.MinThreshold {
		return
	}

	i := y*p.w + x
	if !p.active[i] {
		p.active[i] = true
		p.activeCount++
	}
	if magnitude > p.magnitude[i] {
		p.magnitude[i] = magnitude
	}

	spread := magnitude * propagationDamping
	if spread <= p.cfg.MinThreshold*propagationGate {
		return
	}
	r := p.cfg.PropagateRadius
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if !p.inBounds(nx, ny) {
				continue
			}
			j := ny*p.w + nx
			if !p.next[j] {
				p.next[j] = true
				p.nextCount++
			}
		}
	}
}

// AdvanceIteration promotes the next set to active and clears the
// magnitude buffer.
func (p *Partitioner) AdvanceIteration() {
	p.active, p.next = p.next, p.active
	p.activeCount = p.nextCount

	for i := range p.next {
		p.next[i] = false
	}
	p.nextCount = 0
	for i := range p.magnitude {
		p.magnitude[i] = 0
	}
}

func (p *Partitioner) IsCellActive(x, y int) bool {
	if !p.inBounds(x, y) {
		return false
	}
	return p.active[y*p.w+x]
}

func (p *Partitioner) Magnitude(x, y int) float64 {
	if !p.inBounds(x, y) {
		return 0
	}
	return p.magnitude[y*p.w+x]
}

func (p *Partitioner) ActiveCellCount() int { return p.activeCount }
func (p *Partitioner) TotalCells() int      { return p.w * p.h }

// HasConverged reports whether the active fraction fell below ratio.
func (p *Partitioner) HasConverged(ratio float64) bool {
	return float64(p.activeCount)/float64(p.w*p.h) < ratio
}

// MarkAllActive flags every cell, used at run start or after a global
// perturbation.
func (p *Partitioner) MarkAllActive() {
	for i := range p.active {
		p.active[i] = true
	}
	p.activeCount = p.w * p.h
}

// Reset empties both sets and the magnitude buffer.
func (p *Partitioner) Reset() {
	for i := range p.active {
		p.active[i] = false
		p.next[i] = false
		p.magnitude[i] = 0
	}
	p.activeCount = 0
	p.nextCount = 0
}

// ForEachActive visits every active cell in row-major order.
func (p *Partitioner) ForEachActive(fn func(x, y int)) {
	for y := 0; y < p.h; y++ {
		row := y * p.w
		for x := 0; x < p.w; x++ {
			if p.active[row+x] {
				fn(x, y)
			}
		}
	}
}

// Stats is the partitioner's performance accounting.
type Stats struct {
	TotalCells      int     `json:"total_cells"`
	ActiveCells     int     `json:"active_cells"`
	EfficiencyRatio float64 `json:"efficiency_ratio"`
	PerformanceGain float64 `json:"performance_gain"`
}

func (p *Partitioner) Stats() Stats {
	total := p.w * p.h
	s := Stats{TotalCells: total, ActiveCells: p.activeCount}
	s.EfficiencyRatio = 1 - float64(p.activeCount)/float64(total)
	if p.activeCount > 0 {
		s.PerformanceGain = float64(total) / float64(p.activeCount)
	} else {
		s.PerformanceGain = 1.0
	}
	return s
}
