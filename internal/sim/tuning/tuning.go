package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the run configuration loaded from tuning.yaml. Zero values are
// filled from Defaults so a partial file stays valid.
type Tuning struct {
	Width      int   `yaml:"width"`
	Height     int   `yaml:"height"`
	PlateCount int   `yaml:"plate_count"`
	Seed       int64 `yaml:"seed"`

	Iterations          int     `yaml:"iterations"`
	Dt                  float64 `yaml:"dt"`
	ErosionAcceleration float64 `yaml:"erosion_acceleration"`
	TectonicRate        float64 `yaml:"tectonic_rate"`
	ProgressEvery       int     `yaml:"progress_every"`

	Flow        Flow        `yaml:"flow"`
	Convergence Convergence `yaml:"convergence"`
	Partition   Partition   `yaml:"partition"`

	SnapshotEvery int `yaml:"snapshot_every"`
}

type Flow struct {
	RainRate         float64 `yaml:"rain_rate"`
	Evaporation      float64 `yaml:"evaporation"`
	SedimentCapacity float64 `yaml:"sediment_capacity"`
	ErodeRate        float64 `yaml:"erode_rate"`
	DepositRate      float64 `yaml:"deposit_rate"`
	Roughness        float64 `yaml:"roughness"`
}

type Convergence struct {
	MinIterations       int     `yaml:"min_iterations"`
	TotalChangeThresh   float64 `yaml:"total_change_thresh"`
	AverageChangeThresh float64 `yaml:"average_change_thresh"`
	MaxChangeThresh     float64 `yaml:"max_change_thresh"`
	RateThresh          float64 `yaml:"rate_thresh"`
	VarianceThresh      float64 `yaml:"variance_thresh"`
	WindowSize          int     `yaml:"window_size"`
	ConsecutiveRequired int     `yaml:"consecutive_required"`
	Adaptive            bool    `yaml:"adaptive"`
}

type Partition struct {
	MinThreshold         float64 `yaml:"min_threshold"`
	PropagateRadius      int     `yaml:"propagate_radius"`
	ConvergedActiveRatio float64 `yaml:"converged_active_ratio"`
}

func Defaults() Tuning {
	return Tuning{
		Width:               256,
		Height:              128,
		PlateCount:          12,
		Seed:                1,
		Iterations:          2000,
		Dt:                  1.0,
		ErosionAcceleration: 1.0,
		TectonicRate:        0.02,
		ProgressEvery:       100,
		Flow: Flow{
			RainRate:         0.01,
			Evaporation:      0.05,
			SedimentCapacity: 4.0,
			ErodeRate:        0.3,
			DepositRate:      0.3,
			Roughness:        0.05,
		},
		Convergence: Convergence{
			MinIterations:       100,
			TotalChangeThresh:   0.5,
			AverageChangeThresh: 1e-4,
			WindowSize:          50,
			ConsecutiveRequired: 10,
		},
		Partition: Partition{
			MinThreshold:         1e-6,
			PropagateRadius:      2,
			ConvergedActiveRatio: 0.001,
		},
		SnapshotEvery: 500,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	return t, nil
}

// applyDefaults backfills zero values left by a partial file.
func (t *Tuning) applyDefaults() {
	d := Defaults()
	if t.Width <= 0 {
		t.Width = d.Width
	}
	if t.Height <= 0 {
		t.Height = d.Height
	}
	if t.PlateCount <= 0 {
		t.PlateCount = d.PlateCount
	}
	if t.Iterations <= 0 {
		t.Iterations = d.Iterations
	}
	if t.Dt <= 0 {
		t.Dt = d.Dt
	}
	if t.ErosionAcceleration <= 0 {
		t.ErosionAcceleration = d.ErosionAcceleration
	}
	if t.TectonicRate <= 0 {
		t.TectonicRate = d.TectonicRate
	}
	if t.ProgressEvery <= 0 {
		t.ProgressEvery = d.ProgressEvery
	}
	if t.Flow == (Flow{}) {
		t.Flow = d.Flow
	}
	if t.Convergence.WindowSize <= 0 {
		t.Convergence.WindowSize = d.Convergence.WindowSize
	}
	if t.Convergence.ConsecutiveRequired <= 0 {
		t.Convergence.ConsecutiveRequired = d.Convergence.ConsecutiveRequired
	}
	if t.Partition.MinThreshold <= 0 {
		t.Partition.MinThreshold = d.Partition.MinThreshold
	}
	if t.Partition.PropagateRadius <= 0 {
		t.Partition.PropagateRadius = d.Partition.PropagateRadius
	}
	if t.SnapshotEvery <= 0 {
		t.SnapshotEvery = d.SnapshotEvery
	}
}
