package plates

import "math"

const (
	restitution = 0.3

	// Plate pairs farther apart than this (in cell units, scaled by the
	// nominal plate spacing) skip the exchange.
	interactionDistanceFactor = 2.5

	momentumTolerance = 0.01
)

// MomentumReport summarizes one momentum-exchange pass.
type MomentumReport struct {
	Before    float64 // |total momentum| before the pass
	After     float64 // |total momentum| after the pass
	RelError  float64
	Exchanges int
	Conserved bool // RelError within the 1% tolerance
}

// StepMomentum applies pairwise impulse exchanges between approaching plates
// within the interaction distance. Pairs are processed in id order and later
// pairs see velocities already updated by earlier ones (sequential variant).
// Conservation is checked afterwards and violations are logged, never fatal.
func (m *Model) StepMomentum(dt float64) MomentumReport {
	rep := MomentumReport{}
	if dt <= 0 || len(m.plates) < 2 {
		rep.Conserved = true
		return rep
	}

	before := m.totalMomentum()
	rep.Before = before.Len()

	maxDist := interactionDistanceFactor * math.Sqrt(m.cellArea)

	for i := 0; i < len(m.plates); i++ {
		for j := i + 1; j < len(m.plates); j++ {
			p1, p2 := &m.plates[i], &m.plates[j]

			sep := p2.Center.Sub(p1.Center)
			dist := sep.Len()
			if dist == 0 || dist > maxDist {
				continue
			}
			n := sep.Scale(1 / dist)

			rel := p2.Velocity.Sub(p1.Velocity)
			approach := rel.Dot(n)
			if approach >= 0 {
				continue // separating or sliding
			}

			m1 := p1.Mass(m.cellArea)
			m2 := p2.Mass(m.cellArea)
			if m1 <= 0 || m2 <= 0 {
				continue
			}

			// Elastic/inelastic impulse along the separation normal,
			// damped by distance and timestep.
			jmag := -(1 + restitution) * approach / (1/m1 + 1/m2)
			jmag *= (1 / (dist + 1)) * dt

			dv1 := n.Scale(-jmag / m1)
			dv2 := n.Scale(jmag / m2)
			if !finiteVec(dv1) || !finiteVec(dv2) {
				continue
			}
			p1.Velocity = p1.Velocity.Add(dv1)
			p2.Velocity = p2.Velocity.Add(dv2)
			rep.Exchanges++
		}
	}

	after := m.totalMomentum()
	rep.After = after.Len()
	if rep.Before > 0 {
		rep.RelError = after.Sub(before).Len() / rep.Before
	}
	rep.Conserved = rep.RelError <= momentumTolerance
	if !rep.Conserved {
		m.log.Printf("plates: momentum drift %.3f%% after %d exchanges (|p| %.4f -> %.4f)",
			rep.RelError*100, rep.Exchanges, rep.Before, rep.After)
	}
	return rep
}

// totalMomentum is the mass-weighted plate velocity sum.
func (m *Model) totalMomentum() Vec2 {
	var p Vec2
	for i := range m.plates {
		p = p.Add(m.plates[i].Velocity.Scale(m.plates[i].Mass(m.cellArea)))
	}
	return p
}

// TotalMomentum exposes the current momentum magnitude for diagnostics.
func (m *Model) TotalMomentum() float64 { return m.totalMomentum().Len() }

func finiteVec(v Vec2) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) && !math.IsNaN(v.Y) && !math.IsInf(v.Y, 0)
}
