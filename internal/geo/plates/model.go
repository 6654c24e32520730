package plates

import (
	"fmt"
	"log"
	"math"
	"math/rand"
)

type PlateType int

const (
	Continental PlateType = iota
	Oceanic
)

func (t PlateType) String() string {
	if t == Continental {
		return "continental"
	}
	return "oceanic"
}

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(s float64) Vec2 { return Vec2{v.X * s, v.Y * s} }
func (v Vec2) Dot(o Vec2) float64   { return v.X*o.X + v.Y*o.Y }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }

func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// Plate is one kinematic crust fragment. Centers never move during a run;
// only velocities change, through momentum exchange.
type Plate struct {
	ID          int       `json:"id"`
	Center      Vec2      `json:"center"`
	Type        PlateType `json:"type"`
	Velocity    Vec2      `json:"velocity"`
	AgeMa       float64   `json:"age_ma"`
	Density     float64   `json:"density"`
	ThicknessKm float64   `json:"thickness_km"`
	BaseElev    float64   `json:"base_elev"`
}

// Mass returns the approximate plate mass used by the energy budget and
// the momentum exchange: density x thickness x approximate Voronoi cell area.
func (p *Plate) Mass(cellArea float64) float64 {
	return p.Density * p.ThicknessKm * cellArea
}

// Physical constants of the crust/mantle column. The isostasy coefficients
// are the rounded Archimedes ratios (1 - crust/mantle density).
const (
	MantleDensity      = 3.3
	ContinentalDensity = 2.7
	OceanicDensity     = 3.0

	contIsostasyCoef  = 0.18 // ~ (1 - 2.7/3.3)
	oceanIsostasyCoef = 0.09 // ~ (1 - 3.0/3.3)

	refThicknessKm     = 30.0
	minContThicknessKm = 30.0
	maxContThicknessKm = 50.0
	minOceanThickKm    = 5.0
	maxOceanThickKm    = 10.0

	continentalBase = 0.6
	oceanicBase     = -0.5

	minPlateAgeMa = 10.0
	maxPlateAgeMa = 200.0

	// Thermal subsidence of cooling oceanic lithosphere, per Ma.
	thermalSubsidenceRate = 0.001

	continentalFraction = 0.35
)

// Isostatic elevation bounds derived from the density ratios above. Boundary
// effects are clamped separately on top of these.
var (
	MaxIsostaticElevation = continentalBase + contIsostasyCoef*(maxContThicknessKm-refThicknessKm)
	MinIsostaticElevation = oceanicBase + oceanIsostasyCoef*(minOceanThickKm-refThicknessKm) - maxPlateAgeMa*thermalSubsidenceRate
)

// Hard bounds on any elevation the model can emit: isostatic range plus the
// largest boundary uplift/rift the energy budget allows.
var (
	MaxElevation = MaxIsostaticElevation + contContPotential
	MinElevation = MinIsostaticElevation - riftPotential
)

// Model owns the plate set and the immutable Voronoi ownership map.
type Model struct {
	w, h   int
	plates []Plate

	owner     []int16   // nearest plate per cell
	ownerDist []float32 // distance to that plate's center

	cellArea float64
	log      *log.Logger
}

// New builds a plate model over a w x h grid. Plate placement, typing and
// kinematics are fully determined by seed.
func New(w, h, plateCount int, seed int64, logger *log.Logger) (*Model, error) {
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("plates: bad grid %dx%d", w, h)
	}
	if plateCount < 1 {
		return nil, fmt.Errorf("plates: plate count %d < 1", plateCount)
	}
	if plateCount > w*h {
		plateCount = w * h
	}
	if logger == nil {
		logger = log.Default()
	}

	rng := rand.New(rand.NewSource(seed))

	m := &Model{
		w:        w,
		h:        h,
		cellArea: float64(w*h) / float64(plateCount),
		log:      logger,
	}

	centers := placeCenters(rng, w, h, plateCount)
	continental := chooseContinental(rng, centers)

	m.plates = make([]Plate, plateCount)
	for i, c := range centers {
		p := Plate{ID: i, Center: c}
		if continental[i] {
			p.Type = Continental
			p.Density = ContinentalDensity
			p.ThicknessKm = minContThicknessKm + rng.Float64()*(maxContThicknessKm-minContThicknessKm)
			p.BaseElev = continentalBase
		} else {
			p.Type = Oceanic
			p.Density = OceanicDensity
			p.ThicknessKm = minOceanThickKm + rng.Float64()*(maxOceanThickKm-minOceanThickKm)
			p.BaseElev = oceanicBase
		}
		speed := 0.2 + rng.Float64()*0.8
		dir := rng.Float64() * 2 * math.Pi
		p.Velocity = Vec2{math.Cos(dir) * speed, math.Sin(dir) * speed}
		p.AgeMa = minPlateAgeMa + rng.Float64()*(maxPlateAgeMa-minPlateAgeMa)
		m.plates[i] = p
	}

	m.buildVoronoi()
	return m, nil
}

// placeCenters rejection-samples plateCount centers with a minimum pairwise
// separation scaled to the expected cell size. After the attempt budget the
// separation constraint is dropped so construction always succeeds.
func placeCenters(rng *rand.Rand, w, h, n int) []Vec2 {
	minSep := 0.5 * math.Sqrt(float64(w*h)/float64(n))
	centers := make([]Vec2, 0, n)
	const attemptsPer = 64
	for len(centers) < n {
		placed := false
		for a := 0; a < attemptsPer; a++ {
			c := Vec2{rng.Float64() * float64(w), rng.Float64() * float64(h)}
			ok := true
			for _, e := range centers {
				if c.Sub(e).Len() < minSep {
					ok = false
					break
				}
			}
			if ok {
				centers = append(centers, c)
				placed = true
				break
			}
		}
		if !placed {
			// Grid too crowded for the current separation; relax it.
			minSep *= 0.7
			if minSep < 1e-6 {
				centers = append(centers, Vec2{rng.Float64() * float64(w), rng.Float64() * float64(h)})
			}
		}
	}
	return centers
}

// chooseContinental marks ~35% of plates continental by seeding a few cores
// and greedily annexing each core's nearest unclaimed neighbors, so that
// continents cluster instead of scattering.
func chooseContinental(rng *rand.Rand, centers []Vec2) []bool {
	n := len(centers)
	want := int(math.Round(continentalFraction * float64(n)))
	if want < 1 {
		want = 1
	}
	if want > n {
		want = n
	}
	cores := want / 3
	if cores < 1 {
		cores = 1
	}

	cont := make([]bool, n)
	claimed := 0
	frontier := make([]int, 0, cores)
	for claimed < cores {
		i := rng.Intn(n)
		if cont[i] {
			continue
		}
		cont[i] = true
		frontier = append(frontier, i)
		claimed++
	}

	for claimed < want {
		// Annex the unclaimed plate nearest to any already-continental one.
		best, bestDist := -1, math.MaxFloat64
		for _, ci := range frontier {
			for j := 0; j < n; j++ {
				if cont[j] {
					continue
				}
				d := centers[j].Sub(centers[ci]).Len()
				if d < bestDist {
					best, bestDist = j, d
				}
			}
		}
		if best < 0 {
			break
		}
		cont[best] = true
		frontier = append(frontier, best)
		claimed++
	}
	return cont
}

// buildVoronoi assigns every cell to its nearest plate center. Cost is
// cells x plates; built once, immutable afterwards.
func (m *Model) buildVoronoi() {
	m.owner = make([]int16, m.w*m.h)
	m.ownerDist = make([]float32, m.w*m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			p := Vec2{float64(x) + 0.5, float64(y) + 0.5}
			bi, bd := 0, math.MaxFloat64
			for i := range m.plates {
				d := p.Sub(m.plates[i].Center).Len()
				if d < bd {
					bi, bd = i, d
				}
			}
			m.owner[y*m.w+x] = int16(bi)
			m.ownerDist[y*m.w+x] = float32(bd)
		}
	}
}

func (m *Model) Width() int      { return m.w }
func (m *Model) Height() int     { return m.h }
func (m *Model) PlateCount() int { return len(m.plates) }

func (m *Model) Plates() []Plate { return m.plates }

// PlateAt returns the owning plate of (x,y), or nil when out of bounds.
func (m *Model) PlateAt(x, y int) *Plate {
	if x < 0 || x >= m.w || y < 0 || y >= m.h {
		return nil
	}
	return &m.plates[m.owner[y*m.w+x]]
}

// OwnerID returns the owning plate id, or -1 out of bounds.
func (m *Model) OwnerID(x, y int) int {
	if x < 0 || x >= m.w || y < 0 || y >= m.h {
		return -1
	}
	return int(m.owner[y*m.w+x])
}

// ElevationAt layers base elevation, isostatic adjustment, oceanic thermal
// subsidence and the boundary interaction term, clamped to the physical
// range. Any non-finite intermediate degrades to 0.
func (m *Model) ElevationAt(x, y int) float64 {
	p := m.PlateAt(x, y)
	if p == nil {
		return 0
	}

	elev := p.BaseElev + isostaticTerm(p)
	if p.Type == Oceanic {
		elev -= p.AgeMa * thermalSubsidenceRate
	}

	if b, ok := m.boundaryNear(x, y); ok {
		elev += m.boundaryElevation(p, b)
	}

	if math.IsNaN(elev) || math.IsInf(elev, 0) {
		return 0
	}
	return clamp(elev, MinElevation, MaxElevation)
}

// isostaticTerm is Archimedes' principle against the 30 km reference column.
func isostaticTerm(p *Plate) float64 {
	coef := oceanIsostasyCoef
	if p.Type == Continental {
		coef = contIsostasyCoef
	}
	return coef * (p.ThicknessKm - refThicknessKm)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
