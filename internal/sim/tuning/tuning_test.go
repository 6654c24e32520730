package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeTuning(t, `
width: 64
height: 32
plate_count: 4
seed: 99
iterations: 500
erosion_acceleration: 3.5
flow:
  rain_rate: 0.02
  evaporation: 0.1
convergence:
  min_iterations: 20
  total_change_thresh: 0.25
  adaptive: true
partition:
  min_threshold: 0.0001
  converged_active_ratio: 0.01
`)
	tun, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tun.Width != 64 || tun.Height != 32 || tun.PlateCount != 4 {
		t.Fatalf("grid: %+v", tun)
	}
	if tun.Seed != 99 || tun.Iterations != 500 {
		t.Fatalf("run params: %+v", tun)
	}
	if tun.ErosionAcceleration != 3.5 {
		t.Fatalf("acceleration: %v", tun.ErosionAcceleration)
	}
	if tun.Flow.RainRate != 0.02 || tun.Flow.Evaporation != 0.1 {
		t.Fatalf("flow: %+v", tun.Flow)
	}
	if !tun.Convergence.Adaptive || tun.Convergence.TotalChangeThresh != 0.25 {
		t.Fatalf("convergence: %+v", tun.Convergence)
	}
	if tun.Partition.ConvergedActiveRatio != 0.01 {
		t.Fatalf("partition: %+v", tun.Partition)
	}
}

func TestLoadPartialBackfills(t *testing.T) {
	path := writeTuning(t, "width: 100\n")
	tun, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Defaults()
	if tun.Width != 100 {
		t.Fatalf("width overridden: %d", tun.Width)
	}
	if tun.Height != d.Height || tun.Iterations != d.Iterations {
		t.Fatalf("defaults not backfilled: %+v", tun)
	}
	if tun.Flow != d.Flow {
		t.Fatalf("flow defaults not backfilled: %+v", tun.Flow)
	}
	if tun.Convergence.WindowSize != d.Convergence.WindowSize {
		t.Fatalf("window size not backfilled: %d", tun.Convergence.WindowSize)
	}
	if tun.Partition.MinThreshold != d.Partition.MinThreshold {
		t.Fatalf("partition threshold not backfilled: %v", tun.Partition.MinThreshold)
	}
	if tun.SnapshotEvery != d.SnapshotEvery {
		t.Fatalf("snapshot cadence not backfilled: %d", tun.SnapshotEvery)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	tun, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatalf("missing file loaded without error")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
	if tun != Defaults() {
		t.Fatalf("missing file should yield defaults")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := writeTuning(t, "width: [not a number\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("malformed yaml accepted")
	}
}
