package evolve

import (
	"context"
	"io"
	"log"
	"math"
	"testing"

	"tectonica.earth/internal/geo/climate"
	"tectonica.earth/internal/geo/converge"
	"tectonica.earth/internal/geo/field"
	"tectonica.earth/internal/geo/flow"
	"tectonica.earth/internal/geo/plates"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func peakField(w, h int) *field.Field {
	f := field.New(w, h)
	f.Set(w/2, h/2, 1.0)
	return f
}

func newTestDriver(t *testing.T, cfg Config, elev *field.Field) *Driver {
	t.Helper()
	logger := testLogger()
	model, err := plates.New(elev.Width(), elev.Height(), 2, 42, logger)
	if err != nil {
		t.Fatalf("plates.New: %v", err)
	}
	fe := flow.New(elev.Width(), elev.Height(), flow.DefaultConfig(1))
	tracker := converge.NewTracker(converge.Config{
		MinIterations:     cfg.Iterations,
		TotalChangeThresh: 1e-12,
	}, logger)
	d, err := NewDriver(cfg, elev, model, fe, climate.Default(), tracker, logger)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return d
}

func TestPeakErodesOverRun(t *testing.T) {
	elev := peakField(5, 5)
	initial := elev.Clone()

	d := newTestDriver(t, Config{
		Iterations:          100,
		Dt:                  1.0,
		ErosionAcceleration: 2.0,
	}, elev)

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Stats.TotalErosion <= 0 {
		t.Fatalf("no erosion recorded: %+v", res.Stats)
	}
	changed := false
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			if math.Abs(res.Elevation.At(x, y)-initial.At(x, y)) > 0.001 {
				changed = true
			}
		}
	}
	if !changed {
		t.Fatalf("no cell moved by more than 0.001")
	}
	if res.Stats.Iterations == 0 {
		t.Fatalf("iteration count not recorded")
	}
	if res.Water == nil {
		t.Fatalf("result missing water field")
	}
	for _, v := range res.Elevation.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite elevation in result")
		}
	}
}

func TestConservationHolds(t *testing.T) {
	elev := peakField(9, 9)
	d := newTestDriver(t, Config{
		Iterations:          50,
		ErosionAcceleration: 2.0,
	}, elev)

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	c := res.Conservation
	if !c.EnergyBalanceOK {
		t.Fatalf("energy identity violated")
	}
	if !c.MassOK {
		t.Fatalf("mass error %.4f%% exceeds tolerance", c.MassErrorPct)
	}
	s := res.Stats
	if s.TotalErosion > 0 {
		got := s.TotalDeposition + s.TotalTransportLoss
		if math.Abs(s.TotalErosion-got)/s.TotalErosion > 0.01 {
			t.Fatalf("ledger split broken: erosion=%v deposition+loss=%v", s.TotalErosion, got)
		}
	}
}

func TestCancellationPreservesState(t *testing.T) {
	elev := peakField(5, 5)
	d := newTestDriver(t, Config{Iterations: 100}, elev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := d.Run(ctx)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatalf("cancelled run returned nil result")
	}
	if res.Stats.Iterations != 0 {
		t.Fatalf("pre-cancelled run reported %d iterations", res.Stats.Iterations)
	}
}

func TestNewDriverValidation(t *testing.T) {
	if _, err := NewDriver(Config{}, nil, nil, nil, nil, nil, testLogger()); err == nil {
		t.Fatalf("nil elevation accepted")
	}
	elev := field.New(4, 4)
	if _, err := NewDriver(Config{}, elev, nil, nil, nil, nil, testLogger()); err == nil {
		t.Fatalf("missing collaborators accepted")
	}
}

func TestProgressSinkReceivesSnapshots(t *testing.T) {
	elev := peakField(8, 8)
	d := newTestDriver(t, Config{
		Iterations:    30,
		ProgressEvery: 10,
	}, elev)

	var got []Progress
	d.SetProgressSink(sinkFunc(func(p Progress) { got = append(got, p) }))

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("sink received %d snapshots, want 3", len(got))
	}
	if got[0].Iteration != 10 || got[2].Iteration != 30 {
		t.Fatalf("snapshot iterations: %d, %d", got[0].Iteration, got[2].Iteration)
	}
}

type sinkFunc func(Progress)

func (f sinkFunc) Publish(p Progress) { f(p) }

func TestAccumulateSplit(t *testing.T) {
	var s Statistics
	s.accumulate(10)
	if s.TotalErosion != 7 || s.TotalDeposition != 6 || s.TotalTransportLoss != 1 {
		t.Fatalf("split: %+v", s)
	}
	s.accumulate(-5)
	s.accumulate(math.NaN())
	if s.TotalErosion != 7 {
		t.Fatalf("invalid inputs changed the ledger: %+v", s)
	}
}

func TestValidateConservationEmptyRun(t *testing.T) {
	var s Statistics
	r := s.ValidateConservation()
	if !r.MassOK || !r.EnergyBalanceOK || r.MassErrorPct != 0 {
		t.Fatalf("zero-work run should validate cleanly: %+v", r)
	}
}

func TestRiverNetworkLength(t *testing.T) {
	water := field.New(6, 6)
	// One 3-cell diagonal chain (8-connected) and one lone puddle.
	water.Set(1, 1, 0.5)
	water.Set(2, 2, 0.5)
	water.Set(3, 2, 0.5)
	water.Set(5, 5, 0.5)
	if got := riverNetworkLength(water); got != 3 {
		t.Fatalf("river length = %d, want 3", got)
	}
	if got := riverNetworkLength(nil); got != 0 {
		t.Fatalf("nil water length = %d", got)
	}
}

func TestClampIsostatic(t *testing.T) {
	if got := clampIsostatic(math.NaN()); got != 0 {
		t.Fatalf("NaN clamp = %v", got)
	}
	if got := clampIsostatic(plates.MaxElevation + 10); got != plates.MaxElevation {
		t.Fatalf("upper clamp = %v", got)
	}
	if got := clampIsostatic(plates.MinElevation - 10); got != plates.MinElevation {
		t.Fatalf("lower clamp = %v", got)
	}
	if got := clampIsostatic(0.25); got != 0.25 {
		t.Fatalf("in-range value altered: %v", got)
	}
}
