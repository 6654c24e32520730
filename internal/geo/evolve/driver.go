package evolve

import (
	"context"
	"fmt"
	"log"
	"math"

	"tectonica.earth/internal/geo/active"
	"tectonica.earth/internal/geo/converge"
	"tectonica.earth/internal/geo/field"
	"tectonica.earth/internal/geo/plates"
)

// FlowEngine is the external water/sediment collaborator: one Step per
// iteration, reading and mutating the elevation field and its own state.
type FlowEngine interface {
	Step(elev, temp *field.Field)
	WaterDepth(x, y int) float64
	SedimentAt(x, y int) float64
	Water() *field.Field
}

// Climate derives a temperature field from the current elevation field.
type Climate interface {
	Temperature(elev *field.Field) *field.Field
}

// Config drives one evolution run. Flow parameters (Dt, sediment
// concentration, roughness) are geologically scaled: long timesteps and
// high concentrations compress millions of years into the iteration budget.
type Config struct {
	Iterations int
	Dt         float64

	SedimentConcentration float64
	Roughness             float64

	// Acceleration > 1 adds a deterministic extra erosion/deposition pass.
	ErosionAcceleration float64

	// Relaxation rate toward the plate model's elevation contribution.
	TectonicRate float64
	// Boundary terms shift as plate velocities change; the tectonic target
	// field is rebuilt every this many iterations (default 50).
	TectonicRefreshEvery int

	ProgressEvery int
	Verbose       bool

	// Partitioner tuning; ConvergedActiveRatio 0 disables the active-set
	// early stop.
	ActiveThreshold      float64
	ActiveRadius         int
	ConvergedActiveRatio float64
}

func (c Config) withDefaults() Config {
	if c.Iterations <= 0 {
		c.Iterations = 1000
	}
	if c.Dt <= 0 {
		c.Dt = 1.0
	}
	if c.ErosionAcceleration < 1 {
		c.ErosionAcceleration = 1
	}
	if c.TectonicRate <= 0 {
		c.TectonicRate = 0.02
	}
	if c.TectonicRefreshEvery <= 0 {
		c.TectonicRefreshEvery = 50
	}
	return c
}

// Progress is the periodic run snapshot handed to sinks (loggers, index
// store, observers).
type Progress struct {
	Iteration   int     `json:"iteration"`
	TotalChange float64 `json:"total_change"`
	AvgChange   float64 `json:"avg_change"`
	MaxChange   float64 `json:"max_change"`
	ActiveCells int     `json:"active_cells"`
	Converged   bool    `json:"converged"`

	TotalErosion    float64 `json:"total_erosion"`
	TotalDeposition float64 `json:"total_deposition"`
}

// ProgressSink receives progress snapshots; implementations must not block
// the run loop.
type ProgressSink interface {
	Publish(Progress)
}

// Result of a completed (or cancelled) run. Statistics accumulated before
// cancellation are preserved.
type Result struct {
	Elevation *field.Field
	Water     *field.Field

	Stats        Statistics
	Conservation ConservationReport
	Convergence  converge.Stats
	Partition    active.Stats
	Momentum     plates.MomentumReport
}

// Driver owns the elevation field for the duration of a run and runs the
// single-threaded evolution loop.
type Driver struct {
	cfg Config
	log *log.Logger

	elev    *field.Field
	initial *field.Field
	scratch *field.Field

	model   *plates.Model
	flow    FlowEngine
	climate Climate

	parts   *active.Partitioner
	tracker *converge.Tracker

	tectonic *field.Field

	stats Statistics
	sink  ProgressSink
}

func NewDriver(cfg Config, elev *field.Field, model *plates.Model, fe FlowEngine, cl Climate, tracker *converge.Tracker, logger *log.Logger) (*Driver, error) {
	if elev == nil {
		return nil, fmt.Errorf("evolve: nil elevation field")
	}
	if model == nil || fe == nil || cl == nil {
		return nil, fmt.Errorf("evolve: missing collaborator")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if tracker == nil {
		tracker = converge.NewTracker(converge.Config{}, logger)
	}
	d := &Driver{
		cfg:     cfg,
		log:     logger,
		elev:    elev,
		initial: elev.Clone(),
		scratch: field.New(elev.Width(), elev.Height()),
		model:   model,
		flow:    fe,
		climate: cl,
		tracker: tracker,
		parts: active.New(elev.Width(), elev.Height(), active.Config{
			MinThreshold:    cfg.ActiveThreshold,
			PropagateRadius: cfg.ActiveRadius,
		}),
	}
	return d, nil
}

// SetProgressSink installs an optional snapshot consumer. Must be called
// before Run.
func (d *Driver) SetProgressSink(s ProgressSink) { d.sink = s }

func (d *Driver) Field() *field.Field              { return d.elev }
func (d *Driver) Partitioner() *active.Partitioner { return d.parts }
func (d *Driver) Tracker() *converge.Tracker       { return d.tracker }
func (d *Driver) Stats() Statistics                { return d.stats }

// Run executes up to cfg.Iterations evolution steps, stopping early on
// convergence or context cancellation. State already accumulated survives
// an early exit.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	d.parts.MarkAllActive()
	d.refreshTectonic()

	var lastMomentum plates.MomentumReport

	for it := 1; it <= d.cfg.Iterations; it++ {
		select {
		case <-ctx.Done():
			d.log.Printf("evolve: cancelled at iteration %d", it)
			return d.result(lastMomentum), ctx.Err()
		default:
		}

		d.scratch.CopyFrom(d.elev)

		lastMomentum = d.model.StepMomentum(d.cfg.Dt)
		if it%d.cfg.TectonicRefreshEvery == 0 {
			d.refreshTectonic()
		}

		temp := d.climate.Temperature(d.elev)

		// Tectonic forcing: relax active cells toward the plate model's
		// contribution.
		d.parts.ForEachActive(func(x, y int) {
			target := d.tectonic.At(x, y)
			d.elev.Add(x, y, d.cfg.TectonicRate*d.cfg.Dt*(target-d.elev.At(x, y)))
		})

		d.flow.Step(d.elev, temp)

		if d.cfg.ErosionAcceleration > 1 {
			d.acceleratePass()
		}

		d.account(it)

		d.tracker.RecordIteration(d.scratch, d.elev, 0)
		d.parts.AdvanceIteration()
		d.stats.Iterations = it

		if d.cfg.ProgressEvery > 0 && it%d.cfg.ProgressEvery == 0 {
			d.report(it)
		}

		if d.tracker.IsConverged() {
			if d.cfg.Verbose {
				d.log.Printf("evolve: converged at iteration %d (ratio %.4f)", it, d.tracker.ConvergenceRatio())
			}
			break
		}
		if d.cfg.ConvergedActiveRatio > 0 && d.parts.HasConverged(d.cfg.ConvergedActiveRatio) {
			if d.cfg.Verbose {
				d.log.Printf("evolve: active set below %.4f at iteration %d", d.cfg.ConvergedActiveRatio, it)
			}
			break
		}
	}

	return d.result(lastMomentum), nil
}

// acceleratePass applies the deterministic extra erosion/deposition pass:
// wet cells erode, sediment-laden cells deposit, split by the 0.7/0.6
// efficiencies so the extra work stays inside the conservation identity.
func (d *Driver) acceleratePass() {
	const eps = 1e-9
	const rate = 0.01

	boost := (d.cfg.ErosionAcceleration - 1) * rate * d.cfg.Dt
	d.parts.ForEachActive(func(x, y int) {
		w := d.flow.WaterDepth(x, y)
		s := d.flow.SedimentAt(x, y)
		if w <= eps && s <= eps {
			return
		}
		dv := -boost*w*ErosionEfficiency + boost*s*DepositionEfficiency
		if dv == 0 {
			return
		}
		nv := clampIsostatic(d.elev.At(x, y) + dv)
		d.elev.Set(x, y, nv)
	})
}

// account computes the per-cell deltas of this iteration, feeds the mass
// ledger from the removed total, and marks changed cells for the next
// iteration's active set.
func (d *Driver) account(iteration int) {
	_ = iteration
	w, h := d.elev.Width(), d.elev.Height()
	removed := 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			delta := d.elev.At(x, y) - d.scratch.At(x, y)
			if delta == 0 {
				continue
			}
			if delta < 0 {
				removed += -delta
				d.parts.MarkCellChanged(x, y, -delta, active.ChangeErosion)
			} else {
				d.parts.MarkCellChanged(x, y, delta, active.ChangeDeposition)
			}
		}
	}
	d.stats.accumulate(removed)
}

func (d *Driver) refreshTectonic() {
	w, h := d.elev.Width(), d.elev.Height()
	if d.tectonic == nil {
		d.tectonic = field.New(w, h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d.tectonic.Set(x, y, d.model.ElevationAt(x, y))
		}
	}
}

func (d *Driver) report(it int) {
	p := Progress{
		Iteration:       it,
		TotalChange:     d.tracker.LastTotal(),
		AvgChange:       d.tracker.LastAverage(),
		MaxChange:       d.tracker.LastMax(),
		ActiveCells:     d.parts.ActiveCellCount(),
		Converged:       d.tracker.IsConverged(),
		TotalErosion:    d.stats.TotalErosion,
		TotalDeposition: d.stats.TotalDeposition,
	}
	if d.cfg.Verbose {
		d.log.Printf("evolve: iter=%d total=%.6g avg=%.6g max=%.6g active=%d erosion=%.4f",
			it, p.TotalChange, p.AvgChange, p.MaxChange, p.ActiveCells, p.TotalErosion)
	}
	if d.sink != nil {
		d.sink.Publish(p)
	}
}

func (d *Driver) result(mom plates.MomentumReport) *Result {
	diff := d.elev.Diff(d.initial)
	d.stats.AvgElevationChange = diff.Average
	d.stats.MaxElevationChange = diff.Max
	d.stats.RiverNetworkLength = riverNetworkLength(d.flow.Water())

	return &Result{
		Elevation:    d.elev,
		Water:        d.flow.Water(),
		Stats:        d.stats,
		Conservation: d.stats.ValidateConservation(),
		Convergence:  d.tracker.Stats(d.cfg.Iterations),
		Partition:    d.parts.Stats(),
		Momentum:     mom,
	}
}

// riverNetworkLength counts cells in 8-connected water-bearing clusters of
// at least two cells (lone puddles are not rivers).
func riverNetworkLength(water *field.Field) int {
	if water == nil {
		return 0
	}
	const wet = 1e-6
	w, h := water.Width(), water.Height()
	seen := make([]bool, w*h)
	length := 0

	var stack [][2]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if seen[i] || water.At(x, y) <= wet {
				continue
			}
			// Flood-fill one cluster.
			size := 0
			stack = stack[:0]
			stack = append(stack, [2]int{x, y})
			seen[i] = true
			for len(stack) > 0 {
				c := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				size++
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := c[0]+dx, c[1]+dy
						if nx < 0 || nx >= w || ny < 0 || ny >= h {
							continue
						}
						j := ny*w + nx
						if seen[j] || water.At(nx, ny) <= wet {
							continue
						}
						seen[j] = true
						stack = append(stack, [2]int{nx, ny})
					}
				}
			}
			if size >= 2 {
				length += size
			}
		}
	}
	return length
}

func clampIsostatic(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < plates.MinElevation {
		return plates.MinElevation
	}
	if v > plates.MaxElevation {
		return plates.MaxElevation
	}
	return v
}
