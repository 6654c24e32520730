package plates

import "math"

// BoundaryKind is the closed set of plate boundary relationships.
type BoundaryKind int

const (
	Convergent BoundaryKind = iota
	Divergent
	Transform
)

func (k BoundaryKind) String() string {
	switch k {
	case Convergent:
		return "convergent"
	case Divergent:
		return "divergent"
	default:
		return "transform"
	}
}

// Boundary describes the nearest foreign-plate contact for a cell.
type Boundary struct {
	Kind     BoundaryKind
	Other    *Plate
	Distance float64 // Chebyshev distance to the nearest foreign cell
}

const (
	// Search radius for the nearest cell of a different plate.
	maxBoundaryRadius = 8

	// Fraction of available kinetic energy turned into geological work.
	convergentEfficiency = 0.15
	divergentEfficiency  = 0.05
	transformEfficiency  = 0.02

	// Geology-informed uplift/rift potentials by pair type.
	contContPotential   = 2.0
	contOceanPotential  = 1.2
	oceanOceanPotential = 0.6
	riftPotential       = 0.8
	transformAmplitude  = 0.15

	// dot(relative velocity, separation direction) below this magnitude
	// classifies as transform.
	transformDotEpsilon = 0.05

	gravity = 9.81
)

// boundaryNear scans a bounded Chebyshev neighborhood for the nearest cell
// owned by a different plate and classifies the relationship.
func (m *Model) boundaryNear(x, y int) (Boundary, bool) {
	self := m.owner[y*m.w+x]
	for r := 1; r <= maxBoundaryRadius; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if maxAbs(dx, dy) != r {
					continue // ring only; inner cells already scanned
				}
				nx, ny := x+dx, y+dy
				if nx < 0 || nx >= m.w || ny < 0 || ny >= m.h {
					continue
				}
				o := m.owner[ny*m.w+nx]
				if o == self {
					continue
				}
				p1 := &m.plates[self]
				p2 := &m.plates[o]
				return Boundary{
					Kind:     classify(p1, p2),
					Other:    p2,
					Distance: float64(r),
				}, true
			}
		}
	}
	return Boundary{}, false
}

// classify uses the sign of dot(relative velocity, center-to-center
// direction): positive closes the gap (convergent), negative opens it
// (divergent), near zero slides (transform).
func classify(p1, p2 *Plate) BoundaryKind {
	rel := p1.Velocity.Sub(p2.Velocity)
	dir := p2.Center.Sub(p1.Center).Normalize()
	d := rel.Dot(dir)
	switch {
	case math.Abs(d) < transformDotEpsilon:
		return Transform
	case d > 0:
		return Convergent
	default:
		return Divergent
	}
}

// boundaryElevation converts the pair's kinetic energy budget into a bounded
// elevation offset with distance falloff from the boundary.
func (m *Model) boundaryElevation(p *Plate, b Boundary) float64 {
	rel := p.Velocity.Sub(b.Other.Velocity)
	relSpeed := rel.Len()
	if relSpeed == 0 && b.Kind != Transform {
		return 0
	}

	m1 := p.Mass(m.cellArea)
	m2 := b.Other.Mass(m.cellArea)
	if m1 <= 0 || m2 <= 0 {
		return 0
	}
	reduced := m1 * m2 / (m1 + m2)
	kinetic := 0.5 * reduced * relSpeed * relSpeed

	var dh float64
	switch b.Kind {
	case Convergent:
		work := kinetic * convergentEfficiency
		limit := work / (reduced * gravity) // E = m g h
		dh = math.Min(limit, upliftPotential(p.Type, b.Other.Type))
	case Divergent:
		work := kinetic * divergentEfficiency
		limit := work / (reduced * gravity)
		dh = -math.Min(limit, riftPotential)
	case Transform:
		shear := kinetic * transformEfficiency
		limit := shear / (reduced * gravity)
		amp := math.Min(limit, transformAmplitude)
		// Smooth oscillation along the fault trace.
		dh = amp * math.Sin((p.Center.X+p.Center.Y)*0.37+b.Distance)
	}

	dh *= falloff(b.Distance)
	if math.IsNaN(dh) || math.IsInf(dh, 0) {
		return 0
	}
	return dh
}

func upliftPotential(a, b PlateType) float64 {
	switch {
	case a == Continental && b == Continental:
		return contContPotential
	case a == Oceanic && b == Oceanic:
		return oceanOceanPotential
	default:
		return contOceanPotential
	}
}

func falloff(dist float64) float64 {
	return math.Sqrt(float64(maxBoundaryRadius) / (dist + 1))
}

func maxAbs(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}
